package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCreateRequest() CreateDecisionRequest {
	return CreateDecisionRequest{
		Subject: SubjectEntityInput{ExternalID: "acme-1", Name: "Acme Corp"},
		Kind:    KindDiscount,
	}
}

func TestCreateDecisionRequestValidate(t *testing.T) {
	longKey := strings.Repeat("k", MaxContextKeyLen+1)

	cases := []struct {
		name    string
		mutate  func(*CreateDecisionRequest)
		wantErr string
	}{
		{"valid", func(*CreateDecisionRequest) {}, ""},
		{"missing external id", func(r *CreateDecisionRequest) { r.Subject.ExternalID = "" }, "external_id is required"},
		{"external id too long", func(r *CreateDecisionRequest) { r.Subject.ExternalID = strings.Repeat("x", MaxExternalIDLen+1) }, "external_id exceeds"},
		{"missing name", func(r *CreateDecisionRequest) { r.Subject.Name = "" }, "name is required"},
		{"name too long", func(r *CreateDecisionRequest) { r.Subject.Name = strings.Repeat("n", MaxNameLen+1) }, "name exceeds"},
		{"unknown kind", func(r *CreateDecisionRequest) { r.Kind = "VIBES" }, "not a recognized decision kind"},
		{"context key too long", func(r *CreateDecisionRequest) { r.ContextKey = &longKey }, "context_key exceeds"},
		{"bad urgency", func(r *CreateDecisionRequest) { r.Urgency = "yesterday" }, "urgency"},
		{"valid urgency", func(r *CreateDecisionRequest) { r.Urgency = UrgencyCritical }, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestReviewDecisionRequestValidate(t *testing.T) {
	ok := "fine"
	require.NoError(t, ReviewDecisionRequest{Action: ReviewApprove, Note: &ok}.Validate())

	longNote := strings.Repeat("n", MaxNoteLen+1)
	err := ReviewDecisionRequest{Action: ReviewApprove, Note: &longNote}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "note exceeds")

	longFinal := strings.Repeat("f", MaxFinalTextLen+1)
	err = ReviewDecisionRequest{Action: ReviewOverride, FinalAction: &longFinal}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final_action exceeds")

	// Unknown actions pass validation; the state machine rejects them.
	require.NoError(t, ReviewDecisionRequest{Action: "ratify"}.Validate())
}

func TestDecisionKindValid(t *testing.T) {
	for _, k := range []DecisionKind{
		KindDiscount, KindOnboarding, KindPaymentTerms, KindCreditExtension,
		KindPartnership, KindRenewal, KindEscalation, KindCustom,
	} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, DecisionKind("").Valid())
	assert.False(t, DecisionKind("discount").Valid())
}

func TestLinkTypeValid(t *testing.T) {
	for _, lt := range []LinkType{LinkPrecedent, LinkSimilarCase, LinkContradicts, LinkSupersedes} {
		assert.True(t, lt.Valid(), string(lt))
	}
	assert.False(t, LinkType("related").Valid())
}

func TestGenerateAndParseRawKey(t *testing.T) {
	rawKey, prefix, err := GenerateRawKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawKey, "arb_"))
	assert.Len(t, prefix, 8)

	parsed, err := ParseRawKey(rawKey)
	require.NoError(t, err)
	assert.Equal(t, prefix, parsed)

	// Two keys never share a prefix in practice.
	_, other, err := GenerateRawKey()
	require.NoError(t, err)
	assert.NotEqual(t, prefix, other)
}

func TestParseRawKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"sk-live-legacy",
		"arb_",
		"arb_nounderscore",
		"arb__secret",
		"arb_prefix_",
	} {
		_, err := ParseRawKey(raw)
		assert.Error(t, err, raw)
	}
}
