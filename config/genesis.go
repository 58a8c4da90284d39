package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/geanlabs/gravity/types"
)

type genesisJSON struct {
	Nonce      uint64 `json:"nonce"`
	Validators []struct {
		Signer string `json:"signer"`
		Power  uint64 `json:"power"`
	} `json:"validators"`
}

// LoadGenesis reads the genesis validator set from a JSON file.
func LoadGenesis(path string) (*types.ValidatorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes a genesis validator set:
//
//	{"nonce": 0, "validators": [{"signer": "0x...", "power": 10}]}
func ParseGenesis(data []byte) (*types.ValidatorSet, error) {
	var raw genesisJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing genesis JSON: %w", err)
	}
	members := make([]types.Validator, len(raw.Validators))
	for i, v := range raw.Validators {
		signer, err := types.ParseAddress(v.Signer)
		if err != nil {
			return nil, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		members[i] = types.Validator{Signer: signer, Power: types.Power(v.Power)}
	}
	return types.NewValidatorSet(raw.Nonce, members)
}
