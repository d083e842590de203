package epay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notifyParams() map[string]string {
	return map[string]string{
		"pid":          "2208",
		"type":         "wxpay",
		"out_trade_no": "FT1",
		"money":        "100.00",
		"name":         "Recharge",
		"param":        "  ",
		"sign":         "x",
		"sign_type":    "MD5",
	}
}

func TestCanonicalDropsSignAndBlankValues(t *testing.T) {
	got := Canonical(notifyParams())
	assert.Equal(t, "money=100.00&name=Recharge&out_trade_no=FT1&pid=2208&type=wxpay", got)
}

func TestCanonicalUnescapesQuotes(t *testing.T) {
	got := Canonical(map[string]string{"pid": "2208", "name": "{&quot;a&quot;:1}"})
	assert.Equal(t, `name={"a":1}&pid=2208`, got)
}

func TestSignKnownVectors(t *testing.T) {
	signer, err := NewSigner("secret")
	require.NoError(t, err)
	assert.Equal(t, "edb6faa965dbd73d0c9151b1518c65f4", signer.Sign(notifyParams()))

	other, err := NewSigner("k")
	require.NoError(t, err)
	assert.Equal(t, "6cf300f627af60142d5145f51994f9fb", other.Sign(map[string]string{"pid": "2208", "name": "{&quot;a&quot;:1}"}))
}

func TestVerifyRoundTripAndTamper(t *testing.T) {
	signer, err := NewSigner("secret")
	require.NoError(t, err)

	params := notifyParams()
	params["sign"] = signer.Sign(params)
	assert.True(t, signer.Verify(params))

	upper := notifyParams()
	upper["sign"] = "EDB6FAA965DBD73D0C9151B1518C65F4"
	assert.True(t, signer.Verify(upper), "hex case should not matter")

	tampered := notifyParams()
	tampered["sign"] = params["sign"]
	tampered["money"] = "1000.00"
	assert.False(t, signer.Verify(tampered))

	missing := notifyParams()
	delete(missing, "sign")
	assert.False(t, signer.Verify(missing))

	wrongKey, err := NewSigner("other")
	require.NoError(t, err)
	assert.False(t, wrongKey.Verify(params))
}

func TestNewSignerRequiresKey(t *testing.T) {
	_, err := NewSigner(" ")
	assert.Error(t, err)
}
