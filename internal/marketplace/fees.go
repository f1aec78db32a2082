package marketplace

import (
	"github.com/leafsii/marketplace/internal/calc"
)

// FeePolicy resolves the fee rate for a collection: its enabled special fee,
// otherwise the global rate fixed at construction.
type FeePolicy struct {
	global  uint8
	special map[Address]SpecialFee
}

func NewFeePolicy(global uint8) (*FeePolicy, error) {
	if err := calc.ValidateFeeRate(global); err != nil {
		return nil, err
	}
	return &FeePolicy{global: global, special: make(map[Address]SpecialFee)}, nil
}

func (p *FeePolicy) Global() uint8 {
	return p.global
}

func (p *FeePolicy) Resolve(collection Address) uint8 {
	if sf, ok := p.special[collection]; ok && sf.Enabled {
		return sf.Rate
	}
	return p.global
}

// Special returns the override for collection, or the zero SpecialFee.
func (p *FeePolicy) Special(collection Address) SpecialFee {
	return p.special[collection]
}

func (p *FeePolicy) SetSpecial(collection Address, rate uint8) error {
	if err := calc.ValidateFeeRate(rate); err != nil {
		return err
	}
	p.special[collection] = SpecialFee{Enabled: true, Rate: rate}
	return nil
}

// RemoveSpecial is idempotent and reports whether an override existed.
func (p *FeePolicy) RemoveSpecial(collection Address) bool {
	_, ok := p.special[collection]
	delete(p.special, collection)
	return ok
}

func (p *FeePolicy) All() map[Address]SpecialFee {
	out := make(map[Address]SpecialFee, len(p.special))
	for k, v := range p.special {
		out[k] = v
	}
	return out
}
