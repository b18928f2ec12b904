package connector

import (
	"slices"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/connector/registry"
	"github.com/drivepoint/source-quickbooks/pkg/protocol"
	"github.com/drivepoint/source-quickbooks/pkg/quickbooks"
)

// Stream names
const (
	StreamBalanceSheet  = "balance_sheet"
	StreamProfitAndLoss = "profit_and_loss"
)

func init() {
	registry.MustRegister(registry.StreamDefinition{
		Name:        StreamBalanceSheet,
		Report:      quickbooks.ReportBalanceSheet,
		Description: "Balance Sheet accounts, one record per account and column class",
	})
	registry.MustRegister(registry.StreamDefinition{
		Name:        StreamProfitAndLoss,
		Report:      quickbooks.ReportProfitAndLoss,
		Description: "Profit and Loss accounts, one record per account and column class",
	})
}

// primaryKey identifies a record within a stream
var primaryKey = [][]string{{"_Account_id"}, {"Class"}, {"StartPeriod"}, {CursorField}}

// catalogStream describes def in a catalog
func catalogStream(def registry.StreamDefinition) protocol.Stream {
	return protocol.Stream{
		Name:                    def.Name,
		JSONSchema:              quickbooks.RecordSchema(),
		SupportedSyncModes:      []protocol.SyncMode{protocol.SyncModeFullRefresh, protocol.SyncModeIncremental},
		SourceDefinedCursor:     true,
		DefaultCursorField:      []string{CursorField},
		SourceDefinedPrimaryKey: primaryKey,
	}
}

// enabledStreams returns the registered streams the configuration exposes
func (s *Source) enabledStreams(cfg *config.SourceConfig) []registry.StreamDefinition {
	all := s.registry.List()
	if len(cfg.Reports) == 0 {
		return all
	}
	enabled := make([]registry.StreamDefinition, 0, len(all))
	for _, def := range all {
		if slices.Contains(cfg.Reports, def.Name) {
			enabled = append(enabled, def)
		}
	}
	return enabled
}
