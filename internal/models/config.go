package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProxyKind enumerates the closed set of recognized proxy layouts.
type ProxyKind string

const (
	ProxyEIP1967Transparent ProxyKind = "EIP-1967"
	ProxyEIP1967Beacon      ProxyKind = "EIP-1967-Beacon"
	ProxyUUPS               ProxyKind = "UUPS"
	ProxyGnosisSafe         ProxyKind = "GnosisSafe"
	ProxyImmutable          ProxyKind = "immutable"
)

// StructureContractField is the declaration of one extractable field.
// Handler and Copy are mutually exclusive; at most one is set.
type StructureContractField struct {
	Handler  string          `json:"handler,omitempty"`
	Copy     string          `json:"copy,omitempty"`
	Template string          `json:"template,omitempty"`
	Edit     string          `json:"edit,omitempty"`
	Params   json.RawMessage `json:"-"` // handler-kind-specific params, decoded by the handler itself

	Extras map[string]json.RawMessage `json:"-"`
}

// Validate enforces the "carries at most one of {handler, copy}" invariant.
func (f *StructureContractField) Validate(fieldName string) error {
	if f.Handler != "" && f.Copy != "" {
		return fmt.Errorf("field %q: handler and copy are mutually exclusive", fieldName)
	}
	return nil
}

func (f *StructureContractField) UnmarshalJSON(data []byte) error {
	type alias StructureContractField
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = StructureContractField(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Params = raw["params"]
	known := map[string]bool{"handler": true, "copy": true, "template": true, "edit": true, "params": true}
	f.Extras = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			f.Extras[k] = v
		}
	}
	return nil
}

// StructureContract is a per-address (or per-template) override.
type StructureContract struct {
	Extends             string                             `json:"extends,omitempty"`
	CanActIndependently bool                               `json:"canActIndependently,omitempty"`
	IgnoreDiscovery     bool                               `json:"ignoreDiscovery,omitempty"`
	ProxyType           ProxyKind                          `json:"proxyType,omitempty"`
	IgnoreInWatchMode   []string                           `json:"ignoreInWatchMode,omitempty"`
	IgnoreMethods       []string                           `json:"ignoreMethods,omitempty"`
	IgnoreRelatives     []string                           `json:"ignoreRelatives,omitempty"`
	Fields              map[string]*StructureContractField `json:"fields,omitempty"`
	Methods             map[string]json.RawMessage         `json:"methods,omitempty"`
	ManualSourcePaths   []string                           `json:"manualSourcePaths,omitempty"`
	Types               map[string]json.RawMessage         `json:"types,omitempty"`

	// Presence flags let the merge step distinguish "explicitly
	// false/empty" from "not set" for scalar fields, without reflection.
	hasProxyType       bool
	hasCanAct          bool
	hasIgnoreDiscovery bool

	Extras map[string]json.RawMessage `json:"-"`
}

func (c *StructureContract) UnmarshalJSON(data []byte) error {
	type alias StructureContract
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = StructureContract(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["proxyType"]; ok {
		c.hasProxyType = true
	}
	if _, ok := raw["canActIndependently"]; ok {
		c.hasCanAct = true
	}
	if _, ok := raw["ignoreDiscovery"]; ok {
		c.hasIgnoreDiscovery = true
	}

	known := map[string]bool{
		"extends": true, "canActIndependently": true, "ignoreDiscovery": true,
		"proxyType": true, "ignoreInWatchMode": true, "ignoreMethods": true,
		"ignoreRelatives": true, "fields": true, "methods": true,
		"manualSourcePaths": true, "types": true,
	}
	c.Extras = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			c.Extras[k] = v
		}
	}

	if fieldsRaw, ok := raw["fields"]; ok {
		dups, err := duplicateObjectKeys(fieldsRaw)
		if err != nil {
			return err
		}
		if len(dups) > 0 {
			return NewError(ConfigError, "fields", "duplicate field key(s): "+strings.Join(dups, ", "))
		}
	}
	for name, f := range c.Fields {
		if err := f.Validate(name); err != nil {
			return NewError(ConfigError, name, err.Error())
		}
	}
	return nil
}

// duplicateObjectKeys scans a raw JSON object's top-level keys and reports
// any that occur more than once. encoding/json silently keeps "last key
// wins" when unmarshaling an object into a map, so spotting duplicates
// requires walking the token stream directly.
func duplicateObjectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil
	}

	seen := map[string]bool{}
	var dups []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		if seen[key] {
			dups = append(dups, key)
		}
		seen[key] = true

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return dups, nil
}

func (c *StructureContract) HasProxyType() bool       { return c.hasProxyType }
func (c *StructureContract) HasCanAct() bool          { return c.hasCanAct }
func (c *StructureContract) HasIgnoreDiscovery() bool { return c.hasIgnoreDiscovery }

// Clone deep-copies a StructureContract for safe in-place merging.
func (c *StructureContract) Clone() *StructureContract {
	if c == nil {
		return &StructureContract{Fields: map[string]*StructureContractField{}, Methods: map[string]json.RawMessage{}, Types: map[string]json.RawMessage{}}
	}
	out := &StructureContract{
		Extends:             c.Extends,
		CanActIndependently: c.CanActIndependently,
		IgnoreDiscovery:     c.IgnoreDiscovery,
		ProxyType:           c.ProxyType,
		IgnoreInWatchMode:   append([]string(nil), c.IgnoreInWatchMode...),
		IgnoreMethods:       append([]string(nil), c.IgnoreMethods...),
		IgnoreRelatives:     append([]string(nil), c.IgnoreRelatives...),
		Fields:              map[string]*StructureContractField{},
		Methods:             map[string]json.RawMessage{},
		ManualSourcePaths:   append([]string(nil), c.ManualSourcePaths...),
		Types:               map[string]json.RawMessage{},
		hasProxyType:        c.hasProxyType,
		hasCanAct:           c.hasCanAct,
		hasIgnoreDiscovery:  c.hasIgnoreDiscovery,
		Extras:              map[string]json.RawMessage{},
	}
	for k, v := range c.Fields {
		fc := *v
		out.Fields[k] = &fc
	}
	for k, v := range c.Methods {
		out.Methods[k] = v
	}
	for k, v := range c.Types {
		out.Types[k] = v
	}
	for k, v := range c.Extras {
		out.Extras[k] = v
	}
	return out
}

// StructureConfig is the project-root configuration.
type StructureConfig struct {
	Name             string                         `json:"name"`
	Chain            string                         `json:"chain"`
	Archived         bool                           `json:"archived,omitempty"`
	InitialAddresses []Address                      `json:"initialAddresses"`
	Import           []string                       `json:"import,omitempty"`
	MaxAddresses     int                            `json:"maxAddresses"`
	MaxDepth         int                            `json:"maxDepth,omitempty"` // NoMaxDepth when omitted from JSON, see EffectiveMaxDepth
	Overrides        map[Address]*StructureContract `json:"overrides,omitempty"`
	SharedModules    []string                       `json:"sharedModules,omitempty"`
	Types            map[string]json.RawMessage     `json:"types,omitempty"`
	Concurrency      int                            `json:"concurrency,omitempty"` // 0 means DefaultConcurrency

	Extras map[string]json.RawMessage `json:"-"`
}

const (
	DefaultMaxAddresses = 100
	DefaultConcurrency  = 25
)

// NoMaxDepth is the "no depth cap" sentinel, the default when maxDepth is
// omitted. Use EffectiveMaxDepth to read it back.
const NoMaxDepth = -1

func (c *StructureConfig) UnmarshalJSON(data []byte) error {
	type alias StructureConfig
	a := alias{MaxDepth: NoMaxDepth}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = StructureConfig(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["maxDepth"]; !ok {
		c.MaxDepth = NoMaxDepth
	}
	if _, ok := raw["maxAddresses"]; !ok {
		c.MaxAddresses = DefaultMaxAddresses
	}
	known := map[string]bool{
		"name": true, "chain": true, "archived": true, "initialAddresses": true,
		"import": true, "maxAddresses": true, "maxDepth": true, "overrides": true,
		"sharedModules": true, "types": true, "concurrency": true,
	}
	c.Extras = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			c.Extras[k] = v
		}
	}
	return nil
}

// Validate enforces the config invariants.
func (c *StructureConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must be non-empty")
	}
	if c.Chain == "" {
		return fmt.Errorf("config: chain must be non-empty")
	}
	if c.MaxAddresses < 1 {
		return fmt.Errorf("config: maxAddresses must be >= 1, got %d", c.MaxAddresses)
	}
	return nil
}

// EffectiveMaxAddresses applies the default of 100.
func (c *StructureConfig) EffectiveMaxAddresses() int {
	if c.MaxAddresses <= 0 {
		return DefaultMaxAddresses
	}
	return c.MaxAddresses
}

// EffectiveMaxDepth returns the configured depth cap, effectively
// unbounded when MaxDepth is negative (NoMaxDepth). A MaxDepth of 0, such
// as the zero value of a struct literal, is a real cap that admits only
// the initial addresses. The cap is a strict pre-filter: relatives past it
// are never enqueued.
func (c *StructureConfig) EffectiveMaxDepth() int {
	if c.MaxDepth < 0 {
		return 1<<31 - 1
	}
	return c.MaxDepth
}

// EffectiveConcurrency applies the default of 25.
func (c *StructureConfig) EffectiveConcurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}
