package quickbooks

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// AccountRecord is one account amount for one column class
type AccountRecord struct {
	Account                string `json:"_Account"`
	AccountID              string `json:"_Account_id"`
	StartPeriod            string `json:"StartPeriod"`
	EndPeriod              string `json:"EndPeriod"`
	Currency               string `json:"Currency"`
	ParentAccountName      string `json:"ParentAccountName"`
	ParentAccountID        string `json:"ParentAccountId"`
	GrandParentAccountName string `json:"GrandParentAccountName"`
	GrandParentAccountID   string `json:"GrandParentAccountId"`
	CategoryAccountName    string `json:"CategoryAccountName"`
	CategoryAccountID      string `json:"CategoryAccountId"`
	Classification         string `json:"Classification"`
	FullyQualifiedName     string `json:"FullyQualifiedName"`
	AccountType            string `json:"AccountType"`
	FullAccountName        string `json:"FullAccountName"`
	Class                  string `json:"Class"`
	TotalMoney             string `json:"Total_Money"`
}

// RecordFields lists the record properties in output order
var RecordFields = []string{
	"_Account", "_Account_id", "StartPeriod", "EndPeriod", "Currency",
	"ParentAccountName", "ParentAccountId", "GrandParentAccountName", "GrandParentAccountId",
	"CategoryAccountName", "CategoryAccountId", "Classification", "FullyQualifiedName",
	"AccountType", "FullAccountName", "Class", "Total_Money",
}

// RecordSchema returns the JSON schema of AccountRecord
func RecordSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(RecordFields))
	for _, f := range RecordFields {
		props[f] = map[string]interface{}{"type": "string"}
	}
	return map[string]interface{}{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
	}
}

// ColumnClasses derives the class name of every amount column. The first
// column holds account names and is skipped. A Total column is dropped
// once more than one class column has been collected.
func ColumnClasses(columns []Column) []string {
	if len(columns) < 2 {
		return nil
	}
	classes := make([]string, 0, len(columns)-1)
	for i, col := range columns[1:] {
		name := "Column_" + strconv.Itoa(i+1)
		if col.ColTitle != "" {
			name = strings.NewReplacer(" ", "", "-", "").Replace(col.ColTitle)
		}
		if len(classes) > 1 && strings.EqualFold(name, "total") {
			continue
		}
		classes = append(classes, name)
	}
	return classes
}

// hierarchy is the section path above a data row
type hierarchy struct {
	parentName      string
	parentID        string
	grandparentName string
	grandparentID   string
	categoryName    string
	categoryID      string
}

// descend returns the hierarchy for rows nested in a section named name
func (h hierarchy) descend(name, id string) hierarchy {
	switch {
	case h.categoryName == "":
		return hierarchy{categoryName: name, categoryID: id}
	case h.parentName == "":
		return hierarchy{
			categoryName: h.categoryName,
			categoryID:   h.categoryID,
			parentName:   name,
			parentID:     id,
		}
	default:
		return hierarchy{
			categoryName:    h.categoryName,
			categoryID:      h.categoryID,
			grandparentName: h.parentName,
			grandparentID:   h.parentID,
			parentName:      name,
			parentID:        id,
		}
	}
}

func (h hierarchy) fullName(account string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{h.categoryName, h.grandparentName, h.parentName, account} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// Flattener turns a report into account records
type Flattener struct {
	logger *zap.Logger
}

// NewFlattener creates a flattener
func NewFlattener(logger *zap.Logger) *Flattener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flattener{logger: logger}
}

// Flatten walks the row tree depth first and returns one record per data
// row and column class, in document order
func (f *Flattener) Flatten(report *Report) []AccountRecord {
	if report == nil || len(report.Rows.Row) == 0 {
		name := ""
		if report != nil {
			name = report.Header.ReportName
		}
		f.logger.Warn("no rows found in report response", zap.String("report", name))
		return nil
	}

	classes := ColumnClasses(report.Columns.Column)
	w := &walker{
		header:  report.Header,
		classes: classes,
	}
	w.walk(report.Rows.Row, hierarchy{})

	f.logger.Debug("flattened report",
		zap.String("report", report.Header.ReportName),
		zap.Int("classes", len(classes)),
		zap.Int("records", len(w.records)))
	return w.records
}

type walker struct {
	header  ReportHeader
	classes []string
	records []AccountRecord
}

func (w *walker) walk(rows []Row, h hierarchy) {
	for i := range rows {
		row := &rows[i]
		switch row.Type {
		case RowTypeData:
			w.emit(row, h)
		case RowTypeSection:
			name, id := row.Title()
			w.walk(row.Children(), h.descend(name, id))
		}
	}
}

func (w *walker) emit(row *Row, h hierarchy) {
	if len(row.ColData) < 2 {
		return
	}
	account := row.ColData[0].Value
	accountID := row.ColData[0].ID
	fullName := h.fullName(account)

	for i, class := range w.classes {
		amount := ""
		if i+1 < len(row.ColData) {
			amount = row.ColData[i+1].Value
		}
		w.records = append(w.records, AccountRecord{
			Account:                account,
			AccountID:              accountID,
			StartPeriod:            w.header.StartPeriod,
			EndPeriod:              w.header.EndPeriod,
			Currency:               w.header.Currency,
			ParentAccountName:      h.parentName,
			ParentAccountID:        h.parentID,
			GrandParentAccountName: h.grandparentName,
			GrandParentAccountID:   h.grandparentID,
			CategoryAccountName:    h.categoryName,
			CategoryAccountID:      h.categoryID,
			Classification:         row.Group,
			FullAccountName:        fullName,
			Class:                  class,
			TotalMoney:             amount,
		})
	}
}
