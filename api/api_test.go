package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/storage"
	"github.com/vocdoni/vocdoni-qf/tally"
	"github.com/vocdoni/vocdoni-qf/types"
)

type testEnv struct {
	stg       *storage.Storage
	finalized *config.Round
	active    *config.Round
	s         *settlement.Settlement
}

func testRound(chainID uint32, deadline time.Time) *config.Round {
	return &config.Round{
		ID: types.RoundID{
			Address: common.HexToAddress("0x5000000000000000000000000000000000000005"),
			ChainID: chainID,
		},
		CoordinatorPubKey: keys.GenerateKeypair().PublicKey,
		MaxRecipients:     2,
		MaxVoiceCredits:   big.NewInt(100000),
		MatchingPool:      big.NewInt(1000),
		VoiceCreditFactor: big.NewInt(1),
		SignUpDeadline:    deadline,
		VotingDeadline:    deadline.Add(time.Hour),
		Recipients: []common.Address{
			common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		},
	}
}

func newTestEnv(c *qt.C) *testEnv {
	env := &testEnv{stg: storage.New(metadb.NewTest(c))}

	env.finalized = testRound(1, time.Now().Add(-2*time.Hour))
	c.Assert(env.stg.SetRound(env.finalized), qt.IsNil)
	tl := tally.New(2)
	tl.Results[1].SetInt64(200)
	tl.Results[2].SetInt64(100)
	tl.PerRecipientSpent[1].SetInt64(40000)
	tl.PerRecipientSpent[2].SetInt64(10000)
	tl.TotalSpent.SetInt64(50000)
	salts, err := tally.NewSalts()
	c.Assert(err, qt.IsNil)
	env.s, err = settlement.Settle(tl, salts, &settlement.Params{
		MatchingPool:       big.NewInt(1000),
		TotalContributions: big.NewInt(50000),
		VoiceCreditFactor:  big.NewInt(1),
	}, nil)
	c.Assert(err, qt.IsNil)
	roundHash, err := env.finalized.Hash()
	c.Assert(err, qt.IsNil)
	c.Assert(env.stg.SetResults(&env.finalized.ID, storage.NewRoundResults(roundHash, big.NewInt(1), env.s)), qt.IsNil)

	env.active = testRound(2, time.Now().Add(time.Hour))
	c.Assert(env.stg.SetRound(env.active), qt.IsNil)
	_, err = env.stg.SetRegistration(&env.active.ID, &state.Registration{
		PublicKey:    keys.GenerateKeypair().PublicKey,
		VoiceCredits: big.NewInt(100),
	})
	c.Assert(err, qt.IsNil)
	return env
}

func get(c *qt.C, a *API, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func decode(c *qt.C, rec *httptest.ResponseRecorder, out any) {
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	c.Assert(json.Unmarshal(rec.Body.Bytes(), out), qt.IsNil)
}

func errorCode(c *qt.C, rec *httptest.ResponseRecorder) int {
	var body struct {
		Code int `json:"code"`
	}
	c.Assert(json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &body), qt.IsNil)
	return body.Code
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	a := NewHandler(newTestEnv(c).stg)
	rec := get(c, a, PingEndpoint)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = get(c, a, "/unknown")
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	c.Assert(rec.Header().Get("Content-Type"), qt.Equals, "application/json")
	c.Assert(errorCode(c, rec), qt.Equals, ErrResourceNotFound.Code)
}

func TestRound(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)
	a := NewHandler(env.stg)

	info := &RoundInfo{}
	decode(c, get(c, a, "/rounds/"+env.active.ID.String()), info)
	c.Assert(info.Status, qt.Equals, storage.RoundStatusActive.String())
	c.Assert(info.Registrations, qt.Equals, 1)
	c.Assert(info.Round.ID, qt.Equals, env.active.ID)
	c.Assert(info.Round.MaxRecipients, qt.Equals, uint64(2))
	signUpRoot, err := env.stg.SignUpRoot(&env.active.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(info.SignUpRoot.MathBigInt().Cmp(signUpRoot), qt.Equals, 0)

	info = &RoundInfo{}
	decode(c, get(c, a, "/rounds/"+env.finalized.ID.String()), info)
	c.Assert(info.Status, qt.Equals, storage.RoundStatusFinalized.String())

	rec := get(c, a, "/rounds/zz")
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, rec), qt.Equals, ErrMalformedRoundID.Code)

	unknown := env.active.ID
	unknown.ChainID = 99
	rec = get(c, a, "/rounds/"+unknown.String())
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, rec), qt.Equals, ErrRoundNotFound.Code)
}

func TestTallyAndClaims(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)
	a := NewHandler(env.stg)
	base := "/rounds/" + env.finalized.ID.String()

	tl := &Tally{}
	decode(c, get(c, a, base+"/tally"), tl)
	c.Assert(types.MathBigInts(tl.Results)[1].Int64(), qt.Equals, int64(200))
	c.Assert(tl.TotalSpent.MathBigInt().Int64(), qt.Equals, int64(50000))
	c.Assert(tl.ResultsCommitment.MathBigInt().Cmp(env.s.Commitments.Results), qt.Equals, 0)
	c.Assert(tl.Commitments().Equal(env.s.Commitments), qt.IsTrue)

	claims := &Claims{}
	decode(c, get(c, a, base+"/claims"), claims)
	c.Assert(claims.Claims, qt.HasLen, 3)
	for i, claim := range claims.Claims {
		c.Assert(claim.MathBigInt().Cmp(env.s.Claims[i]), qt.Equals, 0)
	}

	claim := &Claim{}
	decode(c, get(c, a, base+"/claims/1"), claim)
	c.Assert(claim.Amount.MathBigInt().Cmp(env.s.Claims[1]), qt.Equals, 0)
	c.Assert(common.BytesToAddress(claim.RecipientAddress), qt.Equals, env.finalized.Recipients[0])
	c.Assert(settlement.VerifyClaimData(claim.ClaimData(), env.s.Commitments), qt.IsNil)

	// the second recipient has no known address
	claim = &Claim{}
	decode(c, get(c, a, base+"/claims/2"), claim)
	c.Assert(claim.RecipientAddress, qt.HasLen, 0)
	c.Assert(settlement.VerifyClaimData(claim.ClaimData(), env.s.Commitments), qt.IsNil)

	rec := get(c, a, base+"/claims/3")
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, rec), qt.Equals, ErrRecipientNotFound.Code)
	rec = get(c, a, base+"/claims/x")
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
	c.Assert(errorCode(c, rec), qt.Equals, ErrMalformedRecipient.Code)

	// the active round has no results yet
	rec = get(c, a, "/rounds/"+env.active.ID.String()+"/tally")
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, rec), qt.Equals, ErrRoundNotFinalized.Code)
}

func TestSignUp(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)
	a := NewHandler(env.stg)
	base := "/rounds/" + env.active.ID.String()

	signUp := &SignUp{}
	decode(c, get(c, a, base+"/signups/1"), signUp)
	c.Assert(signUp.StateIndex, qt.Equals, uint64(1))
	c.Assert(signUp.Proof.Proof().Verify(signUp.Root.MathBigInt()), qt.IsNil)

	rec := get(c, a, base+"/signups/2")
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	c.Assert(errorCode(c, rec), qt.Equals, ErrSignUpNotFound.Code)
	rec = get(c, a, base+"/signups/-1")
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestMetrics(t *testing.T) {
	c := qt.New(t)
	a := NewHandler(newTestEnv(c).stg)
	rec := get(c, a, MetricsEndpoint)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Body.String(), qt.Contains, "go_goroutines")
}
