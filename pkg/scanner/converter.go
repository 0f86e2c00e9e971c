package scanner

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

// reportItem is the neutral shape a native finding is decoded into. Field
// aliases cover the common spellings emitted by the supported engines.
type reportItem struct {
	RuleID      string `json:"ruleId"`
	RuleIDAlt   string `json:"rule_id"`
	CheckID     string `json:"check_id"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Description string `json:"description"`
	File        string `json:"file"`
	Path        string `json:"path"`
	Line        int    `json:"line"`
	StartLine   int    `json:"startLine"`
	Remediation string `json:"remediation"`
}

// reportEnvelope accepts engines that wrap their findings in an object
// rather than printing a bare array.
type reportEnvelope struct {
	Findings []reportItem `json:"findings"`
	Results  []reportItem `json:"results"`
}

// Converter is the interface that wraps the Convert method.
//
// Convert converts the findings model used by an external scanning engine to
// the normalized Finding model. Unmappable severities default to INFO.
type Converter interface {
	Convert(category scanhub.Category, toolName string, reader io.Reader) ([]scanhub.Finding, error)
}

// NewConverter constructs a Converter for JSON findings reports. It accepts a
// bare array of findings or an object with a "findings" or "results" key.
func NewConverter() Converter {
	return &converter{}
}

type converter struct {
}

func (c *converter) Convert(category scanhub.Category, toolName string, reader io.Reader) ([]scanhub.Finding, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading engine report: %w", err)
	}

	items, err := decodeItems(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s report: %w", toolName, err)
	}

	findings := make([]scanhub.Finding, 0, len(items))
	for _, item := range items {
		findings = append(findings, scanhub.Finding{
			ToolName:    toolName,
			Severity:    scanhub.NormalizeSeverity(item.Severity),
			Category:    category,
			Title:       firstNonEmpty(item.Title, item.Message, item.RuleID, item.RuleIDAlt, item.CheckID),
			Description: firstNonEmpty(item.Description, item.Message),
			Location:    itemLocation(item),
			RuleID:      firstNonEmpty(item.RuleID, item.RuleIDAlt, item.CheckID),
			Remediation: item.Remediation,
		})
	}
	return findings, nil
}

func decodeItems(data []byte) ([]reportItem, error) {
	var items []reportItem
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var envelope reportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Findings != nil {
		return envelope.Findings, nil
	}
	return envelope.Results, nil
}

func itemLocation(item reportItem) *scanhub.Location {
	path := firstNonEmpty(item.File, item.Path)
	if path == "" {
		return nil
	}
	line := item.Line
	if line == 0 {
		line = item.StartLine
	}
	return &scanhub.Location{Path: path, Line: line}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
