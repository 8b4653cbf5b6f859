// Package materialize renders a completed discovery run to the external
// DiscoveryOutput JSON artifact. Analysis itself carries no JSON tags
// (internal/models stays free of output-format concerns); this package
// owns the camelCase shape and the EOA/Contract discriminator.
package materialize

import (
	"encoding/json"
	"io"

	"github.com/contractgraph/discovery/internal/models"
)

// entry is the wire shape for one DiscoveryOutput record. Fields not
// meaningful for the record's Type are left as their zero value and omitted
// via omitempty, the same passthrough-friendly style the config types use.
type entry struct {
	Type              models.AnalysisType             `json:"type"`
	Address           string                          `json:"address"`
	Roles             []string                        `json:"roles,omitempty"`
	Name              string                          `json:"name,omitempty"`
	ProxyType         models.ProxyKind                `json:"proxyType,omitempty"`
	Implementations   []string                        `json:"implementations,omitempty"`
	Values            map[string]models.ContractValue `json:"values,omitempty"`
	Errors            map[string]models.ErrorKind     `json:"errors,omitempty"`
	Relatives         []string                        `json:"relatives,omitempty"`
	IgnoreInWatchMode []string                        `json:"ignoreInWatchMode,omitempty"`
	TemplateID        string                          `json:"templateId,omitempty"`
	SourceHashes      []models.SourceHash             `json:"sourceHashes,omitempty"`
}

// document is the top-level DiscoveryOutput shape.
type document struct {
	Name    string  `json:"name"`
	Chain   string  `json:"chain"`
	Entries []entry `json:"entries"`
}

func toEntry(a models.Analysis) entry {
	e := entry{Type: a.Type, Address: a.Address.Hex()}
	if a.IsEOA() {
		e.Roles = a.Roles
		return e
	}

	e.Name = a.Name
	e.ProxyType = a.ProxyType
	e.Implementations = hexAddresses(a.Implementations)
	e.Values = a.Values
	e.Errors = a.Errors
	e.Relatives = hexAddresses(a.Relatives.Sorted())
	e.IgnoreInWatchMode = a.IgnoreInWatchMode
	e.TemplateID = a.TemplateID
	e.SourceHashes = a.SourceHashes
	return e
}

func hexAddresses(addrs []models.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

// Write encodes a discovery run's resolved analyses as the output
// artifact. analyses must already be sorted by address ascending (the
// engine's contract); Write does not re-sort.
func Write(w io.Writer, name, chainName string, analyses []models.Analysis) error {
	doc := document{Name: name, Chain: chainName, Entries: make([]entry, len(analyses))}
	for i, a := range analyses {
		doc.Entries[i] = toEntry(a)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Marshal is Write's in-memory counterpart, for callers that need the bytes
// directly (tests, or an API response body) rather than a stream.
func Marshal(name, chainName string, analyses []models.Analysis) ([]byte, error) {
	doc := document{Name: name, Chain: chainName, Entries: make([]entry, len(analyses))}
	for i, a := range analyses {
		doc.Entries[i] = toEntry(a)
	}
	return json.MarshalIndent(doc, "", "  ")
}
