package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

func sampleObligation(t *testing.T, due *time.Time) domain.VersionedObligation {
	t.Helper()
	o, err := domain.NewObligation(
		domain.AmountFromInt(10000, "USD"),
		domain.Party{Key: "party-a", Name: "PartyA"},
		domain.Party{Key: "party-b", Name: "PartyB"},
		due,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	oracleParty := domain.Party{Key: "abcd", Name: "Oracle"}
	o, err = o.WithSettlementMethod(domain.OffLedgerPayment(domain.RailXRP, "rDestination", &oracleParty))
	require.NoError(t, err)
	return domain.VersionedObligation{Obligation: o, Version: 2}
}

func TestRenderObligations(t *testing.T) {
	due := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []domain.VersionedObligation{sampleObligation(t, &due)}
	now := due.AddDate(0, 0, 3)

	var buf bytes.Buffer
	require.NoError(t, renderObligations(&buf, items, now, false))

	out := buf.String()
	assert.Contains(t, out, items[0].Obligation.LinearID)
	assert.Contains(t, out, "PartyA")
	assert.Contains(t, out, "UNSETTLED (DEFAULT)")
	assert.Contains(t, out, "2024-02-01")
}

func TestRenderObligation_JSON(t *testing.T) {
	v := sampleObligation(t, nil)

	var buf bytes.Buffer
	require.NoError(t, renderObligation(&buf, v, time.Now(), true))

	var got domain.ObligationResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, v.Obligation.LinearID, got.Obligation.LinearID)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, domain.Unsettled, got.SettlementStatus)
}

func TestRenderObligation_Table(t *testing.T) {
	v := sampleObligation(t, nil)

	var buf bytes.Buffer
	require.NoError(t, renderObligation(&buf, v, time.Now(), false))

	assert.Contains(t, buf.String(), "xrp to rDestination, oracle Oracle")
}

func TestExplain(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "unrecorded payment names the repair", err: customError.WrapUnrecordedPayment("tx-9", errors.New("store down")), contains: "attach-reference <id> --reference tx-9"},
		{name: "oracle unavailable suggests resume", err: customError.WrapOracleUnavailable(errors.New("dial")), contains: "obligationctl resume"},
		{name: "other errors pass through", err: customError.WrapInvalidState("bad"), contains: "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := explain(tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
	assert.NoError(t, explain(nil))
}
