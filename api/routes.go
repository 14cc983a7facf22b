package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// MetricsEndpoint exposes the prometheus metrics of the coordinator
	MetricsEndpoint = "/metrics"

	// RoundURLParam is the round identifier, the hex encoded RoundID
	RoundURLParam = "roundId"
	// RecipientURLParam is the index of a recipient
	RecipientURLParam = "recipient"
	// StateIndexURLParam is the state index of a contributor
	StateIndexURLParam = "stateIndex"

	// RoundEndpoint is the endpoint to get the round parameters and status
	RoundEndpoint = "/rounds/{" + RoundURLParam + "}"
	// TallyEndpoint is the endpoint to get the tally of a finalized round
	TallyEndpoint = RoundEndpoint + "/tally"
	// ClaimsEndpoint is the endpoint to get the claims of every recipient
	ClaimsEndpoint = RoundEndpoint + "/claims"
	// ClaimEndpoint is the endpoint to get the claim data of a recipient,
	// with the proofs needed to verify it against the tally commitments
	ClaimEndpoint = ClaimsEndpoint + "/{" + RecipientURLParam + "}"
	// SignUpEndpoint is the endpoint to get the inclusion proof of a
	// registration in the signup tree of the round
	SignUpEndpoint = RoundEndpoint + "/signups/{" + StateIndexURLParam + "}"
)
