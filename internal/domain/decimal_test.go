package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	valid := []string{"20.12", "-5", "0", "0.0001", "1000000.99"}
	for _, s := range valid {
		d, err := ParseDecimal(s)
		require.NoError(t, err, s)
		back, err := ParseDecimal(d.String())
		require.NoError(t, err)
		require.True(t, d.Equal(back), s)
	}

	invalid := []string{"", "abc", "1.2.3", "12,50"}
	for _, s := range invalid {
		_, err := ParseDecimal(s)
		require.Error(t, err, s)
	}
}

func TestDecimalEqualIgnoresScale(t *testing.T) {
	require.True(t, dec("20.1").Equal(dec("20.10")))
	require.True(t, dec("-3").Equal(dec("-3.000")))
	require.False(t, dec("20.1").Equal(dec("20.11")))
}

func TestDecimalSigns(t *testing.T) {
	require.True(t, dec("0.01").Positive())
	require.False(t, dec("0.01").Negative())
	require.True(t, dec("-0.01").Negative())
	require.False(t, dec("0").Positive())
	require.False(t, dec("0").Negative())
	require.True(t, dec("0").IsZero())

	require.True(t, dec("5").Negated().Equal(dec("-5")))
	require.True(t, dec("-2.5").Negated().Equal(dec("2.5")))
}

func TestNewDecimal(t *testing.T) {
	require.True(t, NewDecimal(2012, -2).Equal(dec("20.12")))
	require.True(t, NewDecimal(3, 0).Equal(dec("3")))
}

func TestDecimalJSON(t *testing.T) {
	type payload struct {
		Amount Decimal  `json:"amount"`
		Cash   *Decimal `json:"cash,omitempty"`
	}

	out, err := json.Marshal(payload{Amount: dec("20.12"), Cash: decp("-3.5")})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"20.12","cash":"-3.5"}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"7.00","cash":"0.25"}`), &in))
	require.True(t, in.Amount.Equal(dec("7")))
	require.NotNil(t, in.Cash)
	require.True(t, in.Cash.Equal(dec("0.25")))

	var omitted payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"1"}`), &omitted))
	require.Nil(t, omitted.Cash)

	var bad payload
	require.Error(t, json.Unmarshal([]byte(`{"amount":"not-a-number"}`), &bad))
}

func TestTradeJSONCash(t *testing.T) {
	tr := Trade{ID: "t1", CashAmount: decp("12.50"), CashPayerID: "alice"}
	out, err := json.Marshal(tr)
	require.NoError(t, err)

	var decoded Trade
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.NotNil(t, decoded.CashAmount)
	require.True(t, decoded.CashAmount.Equal(dec("12.5")))
	require.Equal(t, "alice", decoded.CashPayerID)

	// Absent cash stays nil through a round trip.
	out, err = json.Marshal(Trade{ID: "t2"})
	require.NoError(t, err)
	var noCash Trade
	require.NoError(t, json.Unmarshal(out, &noCash))
	require.Nil(t, noCash.CashAmount)
}
