package models

// AnalysisType discriminates the Analysis sum type.
type AnalysisType string

const (
	AnalysisEOA      AnalysisType = "EOA"
	AnalysisContract AnalysisType = "Contract"
)

// SourceHash is a keccak256 hash (hex, "0x"-prefixed) over a contract's
// canonicalized verified source for one layer (proxy shell at index 0,
// implementations after).
type SourceHash string

// Analysis is the per-address internal result record: a sum type over EOA
// and Contract. Type discriminates which fields are meaningful, mirroring
// ContractValue's Kind discriminator.
type Analysis struct {
	Type    AnalysisType
	Address Address

	// EOA-only
	Roles []string

	// Contract-only
	Name              string
	ProxyType         ProxyKind
	Implementations   []Address
	Values            map[string]ContractValue
	Errors            map[string]ErrorKind
	Relatives         AddressSet
	IgnoreInWatchMode []string
	TemplateID        string
	SourceHashes      []SourceHash
}

// NewEOA constructs an EOA analysis record.
func NewEOA(addr Address, roles []string) Analysis {
	return Analysis{Type: AnalysisEOA, Address: addr, Roles: roles}
}

// NewContract constructs an empty Contract analysis record ready to be
// filled in by the analyzer.
func NewContract(addr Address) Analysis {
	return Analysis{
		Type:      AnalysisContract,
		Address:   addr,
		Values:    map[string]ContractValue{},
		Errors:    map[string]ErrorKind{},
		Relatives: AddressSet{},
	}
}

// IsEOA / IsContract are convenience discriminators.
func (a Analysis) IsEOA() bool      { return a.Type == AnalysisEOA }
func (a Analysis) IsContract() bool { return a.Type == AnalysisContract }
