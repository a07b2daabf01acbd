package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"crowdsale/native/affiliate"
	"crowdsale/native/ceiling"
	"crowdsale/native/sale"
)

var (
	salePrefix        = []byte("sale/")
	ceilingPrefix     = []byte("ceiling/")
	affiliatePrefix   = []byte("affiliate/entry/")
	affiliateIndexKey = []byte("affiliate/index")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}

// SaleRecordGet loads the record of a sale phase.
func (m *Manager) SaleRecordGet(phase string) (*sale.Record, bool, error) {
	record := new(sale.Record)
	ok, err := m.KVGet(prefixed(salePrefix, []byte(phase)), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// SaleRecordPut stores the record of a sale phase.
func (m *Manager) SaleRecordPut(record *sale.Record) error {
	if record == nil || record.Phase == "" {
		return fmt.Errorf("sale record: phase required")
	}
	return m.KVPut(prefixed(salePrefix, []byte(record.Phase)), record)
}

// CeilingRecordGet loads a ceiling oracle record.
func (m *Manager) CeilingRecordGet(name string) (*ceiling.Record, bool, error) {
	record := new(ceiling.Record)
	ok, err := m.KVGet(prefixed(ceilingPrefix, []byte(name)), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// CeilingRecordPut stores a ceiling oracle record.
func (m *Manager) CeilingRecordPut(record *ceiling.Record) error {
	if record == nil || record.Name == "" {
		return fmt.Errorf("ceiling record: name required")
	}
	return m.KVPut(prefixed(ceilingPrefix, []byte(record.Name)), record)
}

// AffiliateGet loads an affiliate registry entry.
func (m *Manager) AffiliateGet(addr common.Address) (*affiliate.Affiliate, bool, error) {
	entry := new(affiliate.Affiliate)
	ok, err := m.KVGet(prefixed(affiliatePrefix, addr.Bytes()), entry)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entry, true, nil
}

// AffiliatePut stores an affiliate registry entry and indexes its address.
func (m *Manager) AffiliatePut(entry *affiliate.Affiliate) error {
	if entry == nil || entry.Address == (common.Address{}) {
		return fmt.Errorf("affiliate: address required")
	}
	if err := m.KVPut(prefixed(affiliatePrefix, entry.Address.Bytes()), entry); err != nil {
		return err
	}
	return m.KVAppend(affiliateIndexKey, entry.Address.Bytes())
}

// Affiliates lists every registered affiliate address.
func (m *Manager) Affiliates() ([]common.Address, error) {
	var raw [][]byte
	if err := m.KVGetList(affiliateIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, common.BytesToAddress(entry))
	}
	return out, nil
}
