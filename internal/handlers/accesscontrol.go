package handlers

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/ethereum/go-ethereum/crypto"
)

// accessControlParams: optional roleNames (role hash -> label,
// so output keys read "ADMIN_ROLE" instead of a raw bytes32) and an optional
// pickRoleMembers to project a single role's member list instead of the
// full role -> members map.
type accessControlParams struct {
	RoleNames       map[string]string `json:"roleNames,omitempty"` // "0x<hash>" -> label
	PickRoleMembers string            `json:"pickRoleMembers,omitempty"`
}

var (
	roleGrantedTopic = models.Hash(crypto.Keccak256Hash([]byte("RoleGranted(bytes32,address,address)")))
	roleRevokedTopic = models.Hash(crypto.Keccak256Hash([]byte("RoleRevoked(bytes32,address,address)")))
)

type accessControlHandler struct{}

func (accessControlHandler) Execute(ctx context.Context, in Input) (Output, error) {
	var p accessControlParams
	if len(in.Params) > 0 {
		if err := json.Unmarshal(in.Params, &p); err != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "accessControl: invalid params: "+err.Error())
		}
	}

	logs, err := in.Provider.GetLogs(ctx, chain.LogFilter{
		Address: in.Address,
		Topics:  [][]models.Hash{{roleGrantedTopic, roleRevokedTopic}},
		ToBlock: 0, // 0 means "current pinned block" to every Provider implementation
	})
	if err != nil {
		return Output{}, err
	}

	members := map[models.Hash]map[models.Address]bool{}
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		role := l.Topics[1]
		account := l.Topics[2].AsAddress()
		if members[role] == nil {
			members[role] = map[models.Address]bool{}
		}
		switch l.Topics[0] {
		case roleGrantedTopic:
			members[role][account] = true
		case roleRevokedTopic:
			delete(members[role], account)
		}
	}

	if p.PickRoleMembers != "" {
		role, err := models.ParseHash(p.PickRoleMembers)
		if err != nil {
			return Output{}, models.NewError(models.HandlerError, in.FieldName, "accessControl: invalid pickRoleMembers: "+err.Error())
		}
		list := sortedAddressValues(members[role])
		return Output{Value: models.NewListValue(list), Relatives: addressesOf(list)}, nil
	}

	roleMap := map[string]models.ContractValue{}
	var allRelatives []models.Address
	for role, set := range members {
		label := role.Hex()
		if name, ok := p.RoleNames[label]; ok {
			label = name
		}
		list := sortedAddressValues(set)
		roleMap[label] = models.NewListValue(list)
		allRelatives = append(allRelatives, addressesOf(list)...)
	}
	return Output{Value: models.NewMapValue(roleMap), Relatives: allRelatives}, nil
}

func sortedAddressValues(set map[models.Address]bool) []models.ContractValue {
	addrs := make([]models.Address, 0, len(set))
	for a, present := range set {
		if present {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })
	out := make([]models.ContractValue, len(addrs))
	for i, a := range addrs {
		out[i] = models.NewAddressValue(a)
	}
	return out
}

func addressesOf(values []models.ContractValue) []models.Address {
	out := make([]models.Address, len(values))
	for i, v := range values {
		out[i] = v.Address()
	}
	return out
}
