package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/arbo"

	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/storage"
	"github.com/vocdoni/vocdoni-qf/types"
)

// roundFromRequest parses the round identifier of the request and loads the
// round. It writes the error response and returns nil on failure.
func (a *API) roundFromRequest(w http.ResponseWriter, r *http.Request) *config.Round {
	id, err := types.ParseRoundID(chi.URLParam(r, RoundURLParam))
	if err != nil {
		ErrMalformedRoundID.WithErr(err).Write(w)
		return nil
	}
	round, err := a.storage.Round(id)
	if err != nil {
		storageError(err, ErrRoundNotFound).Write(w)
		return nil
	}
	return round
}

// resultsFromRequest loads the round of the request and its results. It
// writes the error response and returns nil on failure.
func (a *API) resultsFromRequest(w http.ResponseWriter, r *http.Request) (*config.Round, *storage.RoundResults) {
	round := a.roundFromRequest(w, r)
	if round == nil {
		return nil, nil
	}
	res, err := a.storage.Results(&round.ID)
	if err != nil {
		storageError(err, ErrRoundNotFinalized).Write(w)
		return nil, nil
	}
	return round, res
}

// round returns the parameters and status of a round
// GET /rounds/{roundId}
func (a *API) round(w http.ResponseWriter, r *http.Request) {
	round := a.roundFromRequest(w, r)
	if round == nil {
		return
	}
	status, reason, err := a.storage.RoundStatus(&round.ID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	regs, err := a.storage.Registrations(&round.ID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	batches, err := a.storage.CountMessageBatches(&round.ID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	signUpRoot, err := a.storage.SignUpRoot(&round.ID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &RoundInfo{
		Round:          round,
		Status:         status.String(),
		Error:          reason,
		Registrations:  len(regs),
		MessageBatches: batches,
		SignUpRoot:     types.NewBigInt(signUpRoot),
	})
}

// tally returns the tally of a finalized round and its commitments
// GET /rounds/{roundId}/tally
func (a *API) tally(w http.ResponseWriter, r *http.Request) {
	_, res := a.resultsFromRequest(w, r)
	if res == nil {
		return
	}
	httpWriteJSON(w, &Tally{
		RoundHash:                   res.RoundHash,
		StateRoot:                   res.StateRoot,
		Results:                     res.Results,
		PerRecipientSpent:           res.PerRecipientSpent,
		TotalSpent:                  res.TotalSpent,
		ResultsCommitment:           res.ResultsCommitment,
		ResultsRoot:                 res.ResultsRoot,
		ResultsSalt:                 res.ResultsSalt,
		PerRecipientSpentCommitment: res.PerRecipientSpentCommitment,
		PerRecipientSpentRoot:       res.PerRecipientSpentRoot,
		PerRecipientSpentSalt:       res.PerRecipientSpentSalt,
		TotalSpentCommitment:        res.TotalSpentCommitment,
		TotalSpentSalt:              res.TotalSpentSalt,
		AppliedMessages:             res.AppliedMessages,
		DiscardedMessages:           res.DiscardedMessages,
	})
}

// claims returns the claims of every recipient of a finalized round
// GET /rounds/{roundId}/claims
func (a *API) claims(w http.ResponseWriter, r *http.Request) {
	_, res := a.resultsFromRequest(w, r)
	if res == nil {
		return
	}
	httpWriteJSON(w, &Claims{
		MatchingPool:       res.MatchingPool,
		TotalContributions: res.TotalContributions,
		VoiceCreditFactor:  res.VoiceCreditFactor,
		Claims:             res.Claims,
	})
}

// claim returns the claim data of a recipient of a finalized round
// GET /rounds/{roundId}/claims/{recipient}
func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	recipient, err := uintURLParam(r, RecipientURLParam)
	if err != nil {
		ErrMalformedRecipient.WithErr(err).Write(w)
		return
	}
	round, res := a.resultsFromRequest(w, r)
	if res == nil {
		return
	}
	if recipient == types.NoRecipient || recipient > round.MaxRecipients {
		ErrRecipientNotFound.Withf("%d", recipient).Write(w)
		return
	}
	cd, err := res.Settlement().ClaimData(recipient)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	claim := NewClaim(cd)
	if recipient <= uint64(len(round.Recipients)) {
		claim.RecipientAddress = round.RecipientAddress(recipient).Bytes()
	}
	httpWriteJSON(w, claim)
}

// signUp returns the inclusion proof of a registration in the signup tree
// GET /rounds/{roundId}/signups/{stateIndex}
func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	index, err := uintURLParam(r, StateIndexURLParam)
	if err != nil {
		ErrMalformedStateIndex.WithErr(err).Write(w)
		return
	}
	round := a.roundFromRequest(w, r)
	if round == nil {
		return
	}
	proof, err := a.storage.SignUpProof(&round.ID, index)
	if err != nil {
		storageError(err, ErrSignUpNotFound.Withf("%d", index)).Write(w)
		return
	}
	httpWriteJSON(w, &SignUp{
		StateIndex: index,
		Root:       types.NewBigInt(arbo.BytesToBigInt(proof.Root)),
		Proof:      NewArboProof(proof),
	})
}
