package deepdelta

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/opencontainers/go-digest"
)

// fingerprintMember is the canonical serialized form of one member.
type fingerprintMember struct {
	Name             string   `json:"name"`
	Kind             string   `json:"kind"`
	OrderInsensitive bool     `json:"orderInsensitive,omitempty"`
	KeyMembers       []string `json:"keyMembers,omitempty"`
	Decimal          bool     `json:"decimal,omitempty"`
}

type fingerprintType struct {
	Name    string              `json:"name"`
	Members []fingerprintMember `json:"members"`
}

// Fingerprint derives the 64-bit schema tag carried in delta wire headers:
// the leading 8 bytes of the sha256 digest of the schema's canonical JSON
// form (RFC 8785). Types are sorted by name and members by member name, so
// the tag is independent of registration and declaration order and
// reproducible across processes.
func (s *Schema) Fingerprint() (uint64, error) {
	descriptors := s.Descriptors()

	types := make([]fingerprintType, 0, len(descriptors))
	for name, td := range descriptors {
		ft := fingerprintType{Name: name}
		for _, m := range td.Members {
			ft.Members = append(ft.Members, fingerprintMember{
				Name:             m.Name,
				Kind:             m.Kind.String(),
				OrderInsensitive: m.OrderInsensitive,
				KeyMembers:       m.KeyMembers,
				Decimal:          m.Decimal,
			})
		}
		sort.Slice(ft.Members, func(i, j int) bool { return ft.Members[i].Name < ft.Members[j].Name })
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	raw, err := json.Marshal(map[string]any{"types": types})
	if err != nil {
		return 0, fmt.Errorf("marshal schema for fingerprint: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return 0, fmt.Errorf("canonicalize schema for fingerprint: %w", err)
	}

	d := digest.FromBytes(canonical)
	head, err := hex.DecodeString(d.Encoded()[:16])
	if err != nil {
		return 0, fmt.Errorf("decode schema digest: %w", err)
	}
	return binary.BigEndian.Uint64(head), nil
}
