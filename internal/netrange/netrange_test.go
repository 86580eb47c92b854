package netrange

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"1.2.3.4", "001.002.003.004"},
		{"203.0.113.5", "203.000.113.005"},
		{"2001:db8::1", "2001:0db8:0000:0000:0000:0000:0000:0001"},
		{"2001:DB8:0:0:0:0:0:FF", "2001:0db8:0000:0000:0000:0000:0000:00ff"},
		{"::ffff:10.0.0.1", "010.000.000.001"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_LexicalOrderIsNumeric(t *testing.T) {
	// 9.x sorts after 10.x as strings but not once padded
	require.Less(t, Normalize("9.255.255.255"), Normalize("10.0.0.0"))
	require.Less(t, Normalize("2001:db8::ffff"), Normalize("2001:db8:0:1::"))
}

const rangesJSON = `{
	"groups": [{"id": "example", "name": "Example Hosting"}, {"id": "v6net", "name": "V6 Net"}],
	"ranges": [
		{"from": "192.0.2.0", "to": "192.0.2.255", "m": 24, "g": "example"},
		{"from": "192.0.2.128", "to": "192.0.2.255", "m": "25", "g": "other"},
		{"from": "2001:db8::", "to": "2001:db8:0:ffff:ffff:ffff:ffff:ffff", "m": 64, "g": "v6net"}
	]
}`

func TestIndexMatch(t *testing.T) {
	idx, err := Load(strings.NewReader(rangesJSON))
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())

	r := idx.Match("192.0.2.200")
	require.NotNil(t, r)
	require.Equal(t, "example", r.Group, "first matching range wins")
	require.Equal(t, "192.0.2.0/24", r.CIDR)

	r = idx.Match("2001:db8::42")
	require.NotNil(t, r)
	require.Equal(t, "v6net", r.Group)

	require.Nil(t, idx.Match("192.0.3.1"))
	require.Nil(t, idx.Match("2001:db9::1"))
	require.Nil(t, idx.Match(""))
}

func TestIndexMatch_Bounds(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Add(Spec{From: "10.0.0.10", To: "10.0.0.20", Group: "g"}))

	require.NotNil(t, idx.Match("10.0.0.10"))
	require.NotNil(t, idx.Match("10.0.0.20"))
	require.Nil(t, idx.Match("10.0.0.9"))
	require.Nil(t, idx.Match("10.0.0.21"))
}

func TestIndexMatch_FamiliesDoNotMix(t *testing.T) {
	idx := NewIndex()
	require.NoError(t, idx.Add(Spec{From: "::", To: "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", Group: "all6"}))
	require.Nil(t, idx.Match("100.0.0.1"))
}

func TestOwnerName(t *testing.T) {
	idx, err := Load(strings.NewReader(rangesJSON))
	require.NoError(t, err)
	require.Equal(t, "Example Hosting", idx.OwnerName("example"))
	require.Empty(t, idx.OwnerName("other"))
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"ranges not array", `{"ranges": {"from": "1.1.1.1"}}`},
		{"missing group", `{"ranges": [{"from": "1.1.1.1", "to": "1.1.1.2"}]}`},
		{"reversed", `{"ranges": [{"from": "1.1.1.9", "to": "1.1.1.2", "g": "x"}]}`},
		{"mixed families", `{"ranges": [{"from": "1.1.1.1", "to": "::1", "g": "x"}]}`},
		{"bad mask", `{"ranges": [{"from": "1.1.1.1", "to": "1.1.1.2", "m": "abc", "g": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestPrefixOf(t *testing.T) {
	p, ok := PrefixOf("203.0.113.5")
	require.True(t, ok)
	require.Equal(t, Prefix{
		Group:  "ip4-203-000-113",
		Name:   "203.0.113.x",
		From:   "203.000.113.000",
		To:     "203.000.113.255",
		Family: FamilyV4,
	}, p)

	p, ok = PrefixOf("2001:db8:1:2::5")
	require.True(t, ok)
	require.Equal(t, "ip6-2001-0db8-0001", p.Group)
	require.Equal(t, "2001:db8:1::", p.Name)
	require.Equal(t, "2001:0db8:0001:0000:0000:0000:0000:0000", p.From)
	require.Equal(t, "2001:0db8:0001:ffff:ffff:ffff:ffff:ffff", p.To)

	_, ok = PrefixOf("not-an-ip")
	require.False(t, ok)
}
