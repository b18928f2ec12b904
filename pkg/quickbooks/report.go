// Package quickbooks reads QuickBooks Online reports and flattens their
// nested row trees into one record per account and column class.
package quickbooks

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Report names accepted by the Reports API
const (
	ReportBalanceSheet  = "BalanceSheet"
	ReportProfitAndLoss = "ProfitAndLoss"
)

// Row types
const (
	RowTypeData    = "Data"
	RowTypeSection = "Section"
)

// Report is the body returned by GET /reports/{name}
type Report struct {
	Header  ReportHeader `json:"Header"`
	Columns Columns      `json:"Columns"`
	Rows    Rows         `json:"Rows"`
}

// ReportHeader describes the reporting period and currency
type ReportHeader struct {
	Time               string         `json:"Time,omitempty"`
	ReportName         string         `json:"ReportName,omitempty"`
	ReportBasis        string         `json:"ReportBasis,omitempty"`
	StartPeriod        string         `json:"StartPeriod,omitempty"`
	EndPeriod          string         `json:"EndPeriod,omitempty"`
	SummarizeColumnsBy string         `json:"SummarizeColumnsBy,omitempty"`
	Currency           string         `json:"Currency,omitempty"`
	Option             []ReportOption `json:"Option,omitempty"`
}

// ReportOption is a name/value pair in the report header
type ReportOption struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Columns wraps the column list
type Columns struct {
	Column []Column `json:"Column"`
}

// Column is one report column. The first column holds account names.
type Column struct {
	ColTitle string         `json:"ColTitle"`
	ColType  string         `json:"ColType"`
	MetaData []ReportOption `json:"MetaData,omitempty"`
}

// Rows wraps a row list
type Rows struct {
	Row []Row `json:"Row"`
}

// Row is either a Data row holding one account or a Section grouping rows
type Row struct {
	Type    string     `json:"type"`
	Group   string     `json:"group,omitempty"`
	ColData []ColData  `json:"ColData,omitempty"`
	Header  *RowHeader `json:"Header,omitempty"`
	Rows    *Rows      `json:"Rows,omitempty"`
	Summary *RowHeader `json:"Summary,omitempty"`
}

// RowHeader is the header or summary line of a section
type RowHeader struct {
	ColData []ColData `json:"ColData"`
}

// ColData is a single cell
type ColData struct {
	Value string `json:"value"`
	ID    string `json:"id,omitempty"`
}

// Children returns the nested rows of a section
func (r *Row) Children() []Row {
	if r.Rows == nil {
		return nil
	}
	return r.Rows.Row
}

// Title returns the display name and id of a section
func (r *Row) Title() (string, string) {
	if r.Header == nil || len(r.Header.ColData) == 0 {
		return "", ""
	}
	return r.Header.ColData[0].Value, r.Header.ColData[0].ID
}

// Fault is the error envelope Intuit returns with 4xx and 5xx responses
type Fault struct {
	Fault struct {
		Error []FaultError `json:"Error"`
		Type  string       `json:"type"`
	} `json:"Fault"`
}

// FaultError is one entry of a Fault
type FaultError struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element,omitempty"`
}

// parseFault extracts a readable message from an error body. It returns
// an empty string when the body is not a Fault.
func parseFault(body []byte) string {
	var f Fault
	if err := json.Unmarshal(body, &f); err != nil || len(f.Fault.Error) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.Fault.Error))
	for _, e := range f.Fault.Error {
		msg := e.Message
		if e.Detail != "" && e.Detail != e.Message {
			msg += ": " + e.Detail
		}
		if e.Code != "" {
			msg += " (code " + e.Code + ")"
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
