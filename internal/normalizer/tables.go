package normalizer

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ignite/shipment-monitor/internal/domain"
)

//go:embed tables/status_rules.yaml
var defaultRulesYAML []byte

// UnknownCarrier is the fallback carrier code whose generic rule table is
// retried when a carrier-specific scan finds no match.
const UnknownCarrier = "UNKNOWN"

// ruleSpec is the YAML shape of one mapping rule. Pattern is a regex
// matched against the normalized (upper, diacritics-folded) raw status.
type ruleSpec struct {
	Pattern   string `yaml:"pattern"`
	Status    string `yaml:"status"`
	Exception string `yaml:"exception,omitempty"`
}

// carrierSpec is the YAML shape of one carrier's table.
type carrierSpec struct {
	Code            string     `yaml:"code"`
	Names           []string   `yaml:"names,omitempty"`
	TrackingPattern string     `yaml:"tracking_pattern,omitempty"`
	Rules           []ruleSpec `yaml:"rules"`
}

type tableFile struct {
	Carriers []carrierSpec `yaml:"carriers"`
}

// rule is one compiled mapping rule. Rules are scanned in file order;
// first match wins.
type rule struct {
	re        *regexp.Regexp
	status    domain.CanonicalStatus
	exception domain.ExceptionReason
}

// carrierTable is the compiled rule table for one carrier.
type carrierTable struct {
	code       string
	names      []string
	trackingRe *regexp.Regexp
	rules      []rule
}

// Tables holds compiled rule tables for every known carrier plus the
// UNKNOWN generic table. Immutable after load; safe for concurrent use.
type Tables struct {
	order  []string
	byCode map[string]*carrierTable
}

// LoadDefaultTables compiles the embedded rule tables.
func LoadDefaultTables() (*Tables, error) {
	return parseTables(defaultRulesYAML)
}

// LoadTablesFile compiles rule tables from an operator-provided YAML file,
// allowing new carriers and mappings without touching the matching engine.
func LoadTablesFile(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule tables: %w", err)
	}
	return parseTables(data)
}

func parseTables(data []byte) (*Tables, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule tables: %w", err)
	}
	if len(f.Carriers) == 0 {
		return nil, fmt.Errorf("rule tables: no carriers defined")
	}

	t := &Tables{byCode: make(map[string]*carrierTable)}
	for _, cs := range f.Carriers {
		code := strings.ToUpper(strings.TrimSpace(cs.Code))
		if code == "" {
			return nil, fmt.Errorf("rule tables: carrier with empty code")
		}
		ct := &carrierTable{code: code}
		for _, n := range cs.Names {
			ct.names = append(ct.names, foldUpper(n))
		}
		if cs.TrackingPattern != "" {
			re, err := regexp.Compile(cs.TrackingPattern)
			if err != nil {
				return nil, fmt.Errorf("carrier %s: tracking pattern: %w", code, err)
			}
			ct.trackingRe = re
		}
		for i, rs := range cs.Rules {
			re, err := regexp.Compile(rs.Pattern)
			if err != nil {
				return nil, fmt.Errorf("carrier %s: rule %d: %w", code, i, err)
			}
			status := domain.CanonicalStatus(strings.ToUpper(rs.Status))
			if !status.Valid() {
				return nil, fmt.Errorf("carrier %s: rule %d: unknown status %q", code, i, rs.Status)
			}
			ct.rules = append(ct.rules, rule{
				re:        re,
				status:    status,
				exception: domain.ExceptionReason(strings.ToUpper(rs.Exception)),
			})
		}
		t.order = append(t.order, code)
		t.byCode[code] = ct
	}

	if _, ok := t.byCode[UnknownCarrier]; !ok {
		return nil, fmt.Errorf("rule tables: missing %s generic table", UnknownCarrier)
	}
	return t, nil
}
