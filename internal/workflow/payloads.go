package workflow

import (
	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/patterns"
	"github.com/joelkehle/value-model-agent/internal/session"
	"github.com/joelkehle/value-model-agent/internal/whatif"
)

type PayloadType string

const (
	PayloadResearchResult    PayloadType = "research_result"
	PayloadFootprintResult   PayloadType = "footprint_result"
	PayloadDriverOptions     PayloadType = "driver_options"
	PayloadQuestion          PayloadType = "question"
	PayloadCalculationResult PayloadType = "calculation_result"
	PayloadWhatIfResult      PayloadType = "whatif_result"
	PayloadReport            PayloadType = "report"
	PayloadExportIntent      PayloadType = "export_intent"
	PayloadNotice            PayloadType = "notice"
	PayloadError             PayloadType = "error"
)

// Payload is one event produced by a step. The concrete types below are the
// complete set.
type Payload interface {
	PayloadType() PayloadType
	payload()
}

type ResearchResult struct {
	Company        session.CompanyInfo     `json:"company"`
	Recommendation patterns.Recommendation `json:"recommendation"`
	Recommended    []Option                `json:"recommended"`
	Benchmarks     map[string]float64      `json:"benchmarks,omitempty"`
	Message        string                  `json:"message"`
}

type RecordedInput struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	OutOfRange bool    `json:"out_of_range,omitempty"`
}

type FootprintResult struct {
	Recorded []RecordedInput `json:"recorded"`
	Message  string          `json:"message"`
}

type DriverOptions struct {
	Options []Option `json:"options"`
	Prompt  string   `json:"prompt"`
}

type Question struct {
	InputID      string  `json:"input_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Type         string  `json:"type"`
	Unit         string  `json:"unit"`
	DefaultValue float64 `json:"default_value"`
	LowValue     float64 `json:"low_value"`
	HighValue    float64 `json:"high_value"`
	DriverID     string  `json:"driver_id"`
	DriverName   string  `json:"driver_name"`
	Remaining    int     `json:"remaining"`
	Prompt       string  `json:"prompt"`
}

type CalculationResult struct {
	Result  calc.Result `json:"result"`
	Drivers []string    `json:"drivers"`
	Message string      `json:"message"`
}

type WhatIfResult struct {
	Outcome whatif.Outcome `json:"outcome"`
	Message string         `json:"message"`
}

type Report struct {
	Markdown string `json:"markdown"`
}

type ExportIntent struct {
	Format  string `json:"format"`
	ModelID string `json:"model_id,omitempty"`
}

type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ResearchResult) PayloadType() PayloadType    { return PayloadResearchResult }
func (FootprintResult) PayloadType() PayloadType   { return PayloadFootprintResult }
func (DriverOptions) PayloadType() PayloadType     { return PayloadDriverOptions }
func (Question) PayloadType() PayloadType          { return PayloadQuestion }
func (CalculationResult) PayloadType() PayloadType { return PayloadCalculationResult }
func (WhatIfResult) PayloadType() PayloadType      { return PayloadWhatIfResult }
func (Report) PayloadType() PayloadType            { return PayloadReport }
func (ExportIntent) PayloadType() PayloadType      { return PayloadExportIntent }
func (Notice) PayloadType() PayloadType            { return PayloadNotice }
func (Error) PayloadType() PayloadType             { return PayloadError }

func (ResearchResult) payload()    {}
func (FootprintResult) payload()   {}
func (DriverOptions) payload()     {}
func (Question) payload()          {}
func (CalculationResult) payload() {}
func (WhatIfResult) payload()      {}
func (Report) payload()            {}
func (ExportIntent) payload()      {}
func (Notice) payload()            {}
func (Error) payload()             {}
