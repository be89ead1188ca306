package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"ownersale/native/sale"
)

// Entry describes a named transfer-template shape: the selectors and
// parameter layout of one class of managed resource. Selectors may be given
// as canonical signatures (keccak-derived) or explicit hex; the signature
// wins when both are present.
type Entry struct {
	Name              string `yaml:"name"`
	TransferSignature string `yaml:"transferSignature"`
	TransferSelector  string `yaml:"transferSelector"`
	QuerySignature    string `yaml:"querySignature"`
	QuerySelector     string `yaml:"querySelector"`
	ParamWords        int    `yaml:"paramWords"`
	NewOwnerIndex     int    `yaml:"newOwnerIndex"`
}

type catalogFile struct {
	Entries []Entry `yaml:"entries"`
}

// Catalog resolves shape names to template entries.
type Catalog struct {
	entries map[string]Entry
}

// Builtin returns the catalog of shapes that ship with the daemon. The
// erc173 entry covers the common single-argument ownership surface
// (transferOwnership/owner).
func Builtin() *Catalog {
	c := &Catalog{entries: make(map[string]Entry)}
	c.put(Entry{
		Name:              "erc173",
		TransferSignature: "transferOwnership(address)",
		QuerySignature:    "owner()",
		ParamWords:        1,
		NewOwnerIndex:     0,
	})
	c.put(Entry{
		Name:              "access-control-admin",
		TransferSignature: "setAdmin(address)",
		QuerySignature:    "admin()",
		ParamWords:        1,
		NewOwnerIndex:     0,
	})
	return c
}

// Load reads a YAML catalog from disk and merges it over the builtin shapes;
// file entries override builtin ones of the same name.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	c := Builtin()
	for _, entry := range file.Entries {
		if err := validateEntry(entry); err != nil {
			return nil, fmt.Errorf("catalog: entry %q: %w", entry.Name, err)
		}
		c.put(entry)
	}
	return c, nil
}

// Names lists the known shape names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry returns the named shape.
func (c *Catalog) Entry(name string) (Entry, bool) {
	entry, ok := c.entries[normalizeName(name)]
	return entry, ok
}

// Template instantiates a transfer template for a concrete target. fixed
// supplies values for the non-owner parameter slots; unset slots stay zero
// and the new-owner slot may not be fixed.
func (c *Catalog) Template(name string, target common.Address, fixed map[int]common.Hash) (sale.TransferTemplate, error) {
	entry, ok := c.Entry(name)
	if !ok {
		return sale.TransferTemplate{}, fmt.Errorf("catalog: unknown shape %q", name)
	}
	transferSel, err := resolveSelector(entry.TransferSignature, entry.TransferSelector)
	if err != nil {
		return sale.TransferTemplate{}, fmt.Errorf("catalog: shape %q transfer selector: %w", name, err)
	}
	querySel, err := resolveSelector(entry.QuerySignature, entry.QuerySelector)
	if err != nil {
		return sale.TransferTemplate{}, fmt.Errorf("catalog: shape %q query selector: %w", name, err)
	}
	params := make([]common.Hash, entry.ParamWords)
	for index, value := range fixed {
		if index == entry.NewOwnerIndex {
			return sale.TransferTemplate{}, fmt.Errorf("catalog: slot %d is the new-owner placeholder and cannot be fixed", index)
		}
		if index < 0 || index >= len(params) {
			return sale.TransferTemplate{}, fmt.Errorf("catalog: fixed slot %d out of range for %d words", index, len(params))
		}
		params[index] = value
	}
	tpl := sale.TransferTemplate{
		Target:           target,
		TransferSelector: transferSel,
		Params:           params,
		NewOwnerIndex:    entry.NewOwnerIndex,
		QuerySelector:    querySel,
	}
	if err := tpl.Validate(); err != nil {
		return sale.TransferTemplate{}, err
	}
	return tpl, nil
}

func (c *Catalog) put(entry Entry) {
	c.entries[normalizeName(entry.Name)] = entry
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateEntry(entry Entry) error {
	if normalizeName(entry.Name) == "" {
		return fmt.Errorf("empty name")
	}
	if strings.TrimSpace(entry.TransferSignature) == "" && strings.TrimSpace(entry.TransferSelector) == "" {
		return fmt.Errorf("transfer selector or signature required")
	}
	if strings.TrimSpace(entry.QuerySignature) == "" && strings.TrimSpace(entry.QuerySelector) == "" {
		return fmt.Errorf("query selector or signature required")
	}
	if entry.ParamWords <= 0 {
		return fmt.Errorf("paramWords must be positive")
	}
	if entry.NewOwnerIndex < 0 || entry.NewOwnerIndex >= entry.ParamWords {
		return fmt.Errorf("newOwnerIndex %d out of range for %d words", entry.NewOwnerIndex, entry.ParamWords)
	}
	if _, err := resolveSelector(entry.TransferSignature, entry.TransferSelector); err != nil {
		return err
	}
	if _, err := resolveSelector(entry.QuerySignature, entry.QuerySelector); err != nil {
		return err
	}
	return nil
}

func resolveSelector(signature, explicit string) (sale.Selector, error) {
	if sig := strings.TrimSpace(signature); sig != "" {
		return sale.SelectorFromSignature(sig), nil
	}
	return sale.ParseSelector(explicit)
}
