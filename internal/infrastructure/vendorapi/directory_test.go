package vendorapi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipm/backend/internal/domain/fulfillment"
)

const testDirectoryYAML = `
authorizations:
  - id: AUT-1000-0000
    name: US partner
    client_id: client-us-0001
    client_secret: ${VIPM_TEST_SECRET}
    currency: USD
    distributor_id: DIST-1
    resellers:
      - id: P1000000001
        seller_id: SEL-1111-1111
      - id: P1000000002
        seller_id: SEL-2222-2222
skus:
  - family: 65304578CA
    offer_id: 65304578CA01A12
`

func TestLoadDirectory(t *testing.T) {
	t.Setenv("VIPM_TEST_SECRET", "s3cr3t")
	path := filepath.Join(t.TempDir(), "authorizations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDirectoryYAML), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)

	auth, err := dir.Authorization("AUT-1000-0000")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", auth.ClientSecret)
	assert.Equal(t, "USD", auth.Currency)

	reseller, err := dir.Reseller("AUT-1000-0000", "SEL-2222-2222")
	require.NoError(t, err)
	assert.Equal(t, "P1000000002", reseller.ID)

	assert.Equal(t, "65304578CA01A12", dir.OfferID("65304578CA"))
	assert.Equal(t, "77777777CA01A12", dir.OfferID("77777777CA01A12"))
}

func TestDirectory_Lookups(t *testing.T) {
	t.Setenv("VIPM_TEST_SECRET", "s3cr3t")
	dir, err := ParseDirectory([]byte(os.ExpandEnv(testDirectoryYAML)))
	require.NoError(t, err)

	_, err = dir.Authorization("AUT-9999-9999")
	assert.ErrorIs(t, err, fulfillment.ErrUnknownAuthorization)

	_, err = dir.Reseller("AUT-1000-0000", "SEL-0000-0000")
	assert.ErrorIs(t, err, fulfillment.ErrUnknownSeller)

	_, err = dir.Reseller("AUT-9999-9999", "SEL-1111-1111")
	assert.ErrorIs(t, err, fulfillment.ErrUnknownAuthorization)
}

func TestParseDirectory_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: "authorizations: []"},
		{name: "missing secret", yaml: `
authorizations:
  - id: AUT-1
    client_id: c
    currency: USD
`},
		{name: "bad currency", yaml: `
authorizations:
  - id: AUT-1
    client_id: c
    client_secret: s
    currency: DOLLARS
`},
		{name: "duplicate", yaml: `
authorizations:
  - {id: AUT-1, client_id: c, client_secret: s, currency: USD}
  - {id: AUT-1, client_id: d, client_secret: s, currency: EUR}
`},
		{name: "short family", yaml: `
authorizations:
  - {id: AUT-1, client_id: c, client_secret: s, currency: USD}
skus:
  - {family: "6530", offer_id: 65304578CA01A12}
`},
		{name: "not yaml", yaml: "authorizations: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDirectory([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestAuthorization_StringRedactsCredentials(t *testing.T) {
	auth := Authorization{ID: "AUT-1", ClientID: "client-us-0001", ClientSecret: "s3cr3t", Currency: "USD"}
	s := auth.String()
	assert.NotContains(t, s, "s3cr3t")
	assert.NotContains(t, s, "client-us-0001")
	assert.Contains(t, s, "clie******0001")
}
