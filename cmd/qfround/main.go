// Command qfround simulates a complete quadratic funding round.
//
// It creates a coordinator and a round, signs up a set of contributors that
// cast random votes, and runs the round monitor, the sequencer and the API
// services until the round is finalized. The claims of every recipient are
// then fetched through the API and verified against the tally commitments.
//
// # Usage
//
//	go run ./cmd/qfround --contributors=50 --recipients=8
//	go run ./cmd/qfround --datadir=/tmp/qf --serve --port=9090
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vocdoni/arbo/memdb"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/vocdoni-qf/api/client"
	"github.com/vocdoni/vocdoni-qf/config"
	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/service"
	"github.com/vocdoni/vocdoni-qf/settlement"
	"github.com/vocdoni/vocdoni-qf/state"
	"github.com/vocdoni/vocdoni-qf/storage"
	"github.com/vocdoni/vocdoni-qf/types"
	"github.com/vocdoni/vocdoni-qf/util"
)

type contributor struct {
	key     *keys.Keypair
	index   uint64
	credits *big.Int
	nonce   uint64
}

func main() {
	var (
		dataDir      = flag.String("datadir", "", "data directory (in memory storage if empty)")
		logLevel     = flag.String("loglevel", log.LogLevelInfo, "log level (debug, info, warn, error)")
		chainID      = flag.Uint("chainid", 1, "chain id of the round")
		recipients   = flag.Uint64("recipients", 5, "number of recipients")
		contributors = flag.Int("contributors", 20, "number of contributors")
		maxCredits   = flag.Int64("maxcredits", 1000000, "maximum voice credits per contributor")
		votes        = flag.Int("votes", 3, "votes cast by each contributor")
		batchSize    = flag.Int("batchsize", 16, "messages per batch")
		workers      = flag.Int("workers", 0, "processor workers (number of CPUs if zero)")
		signUpPeriod = flag.Duration("signup", 2*time.Second, "signup period")
		votingPeriod = flag.Duration("voting", 4*time.Second, "voting period after the signup deadline")
		tickInterval = flag.Duration("tick", time.Second, "sequencer tick interval")
		host         = flag.String("host", "127.0.0.1", "API listen host")
		port         = flag.Int("port", 0, "API listen port (random if zero)")
		serve        = flag.Bool("serve", false, "keep serving the API once the round is finalized")
		matchingPool = flag.String("pool", "1000000000000000000000", "matching pool in token units")
		creditFactor = flag.String("factor", "10000000000000", "voice credit factor")
	)
	flag.Parse()
	log.Init(*logLevel, "stdout", nil)

	if *maxCredits < 1 || *recipients < 1 || *votes < 1 || *batchSize < 1 {
		log.Fatal("maxcredits, recipients, votes and batchsize must be positive")
	}

	pool, ok := new(big.Int).SetString(*matchingPool, 10)
	if !ok {
		log.Fatalf("invalid matching pool %q", *matchingPool)
	}
	factor, ok := new(big.Int).SetString(*creditFactor, 10)
	if !ok {
		log.Fatalf("invalid voice credit factor %q", *creditFactor)
	}

	// storage and rounds directory
	var roundsDir string
	var database db.Database
	if *dataDir == "" {
		database = memdb.New()
		tmp, err := os.MkdirTemp("", "qfround")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		roundsDir = tmp
	} else {
		var err error
		database, err = metadb.New("pebble", filepath.Join(*dataDir, "db"))
		if err != nil {
			log.Fatal(err)
		}
		roundsDir = filepath.Join(*dataDir, "rounds")
		if err := os.MkdirAll(roundsDir, 0o755); err != nil {
			log.Fatal(err)
		}
	}
	stg := storage.New(database)
	defer stg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := keys.GenerateKeypair()
	now := time.Now()
	r := &config.Round{
		ID: types.RoundID{
			Address: util.RandomAddress(),
			ChainID: uint32(*chainID),
		},
		CoordinatorPubKey: coordinator.PublicKey,
		MaxRecipients:     *recipients,
		MaxVoiceCredits:   big.NewInt(*maxCredits),
		MatchingPool:      pool,
		VoiceCreditFactor: factor,
		SignUpDeadline:    now.Add(*signUpPeriod),
		VotingDeadline:    now.Add(*signUpPeriod + *votingPeriod),
	}
	if err := r.Validate(); err != nil {
		log.Fatalf("invalid round: %v", err)
	}

	// start services
	monitor := service.NewRoundMonitor(service.NewDirRoundSource(roundsDir), stg, 200*time.Millisecond)
	if err := monitor.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer monitor.Stop()
	seq, err := service.NewSequencer(stg, coordinator, *tickInterval, *workers, settlement.ClrFundFormula{})
	if err != nil {
		log.Fatal(err)
	}
	if err := seq.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer seq.Stop()
	apiSrv := service.NewAPI(stg, *host, *port)
	if err := apiSrv.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer apiSrv.Stop()
	apiHost, apiPort := apiSrv.HostPort()
	log.Infow("services started", "api", fmt.Sprintf("http://%s:%d", apiHost, apiPort), "rounds", roundsDir)

	// publish the round and wait for the monitor to store it
	data, err := json.Marshal(r)
	if err != nil {
		log.Fatal(err)
	}
	// the monitor only reads *.json files, so the round is written aside and
	// renamed into place once complete
	roundFile := filepath.Join(roundsDir, r.ID.String()+".json")
	if err := os.WriteFile(roundFile+".tmp", data, 0o600); err != nil {
		log.Fatal(err)
	}
	if err := os.Rename(roundFile+".tmp", roundFile); err != nil {
		log.Fatal(err)
	}
	for {
		if _, err := stg.Round(&r.ID); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Infow("round created", "round", r.ID.String(), "recipients", r.MaxRecipients)

	users := signUp(stg, r, *contributors, *maxCredits)
	sent := vote(stg, r, coordinator, users, *votes, *batchSize)
	log.Infow("votes sent", "contributors", len(users), "messages", sent)

	cli, err := client.New(fmt.Sprintf("http://%s:%d", apiHost, apiPort))
	if err != nil {
		log.Fatal(err)
	}
	if err := waitFinalized(ctx, cli, &r.ID, time.Until(r.VotingDeadline)+time.Minute); err != nil {
		log.Fatal(err)
	}
	if err := printClaims(cli, r); err != nil {
		log.Fatal(err)
	}

	if *serve {
		log.Infow("serving API, press ctrl+c to exit", "port", apiPort)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
	}
}

// signUp registers n contributors with random voice credits.
func signUp(stg *storage.Storage, r *config.Round, n int, maxCredits int64) []*contributor {
	users := make([]*contributor, 0, n)
	for range n {
		u := &contributor{
			key:     keys.GenerateKeypair(),
			credits: new(big.Int).SetUint64(util.RandomUint64(1, uint64(maxCredits)+1)),
		}
		idx, err := stg.SetRegistration(&r.ID, &state.Registration{PublicKey: u.key.PublicKey, VoiceCredits: u.credits})
		if err != nil {
			log.Fatalf("cannot sign up contributor: %v", err)
		}
		u.index = idx
		users = append(users, u)
	}
	return users
}

// vote makes every contributor spend its credits on random recipients once
// the signup period is over, and pushes the messages in batches. It returns
// the number of messages sent.
func vote(stg *storage.Storage, r *config.Round, coordinator *keys.Keypair, users []*contributor, votes, batchSize int) int {
	time.Sleep(time.Until(r.SignUpDeadline))

	var batch []*message.Message
	sent := 0
	push := func() {
		if len(batch) == 0 {
			return
		}
		if _, err := stg.PushMessageBatch(&r.ID, batch); err != nil {
			log.Fatalf("cannot push message batch: %v", err)
		}
		sent += len(batch)
		batch = nil
	}
	for _, u := range users {
		share := new(big.Int).Quo(u.credits, big.NewInt(int64(votes)))
		if share.Sign() == 0 {
			continue
		}
		for range votes {
			u.nonce++
			recipient := util.RandomUint64(1, r.MaxRecipients+1)
			msg, _, err := message.CreateMessage(u.index, u.key, nil, coordinator.PublicKey, recipient, share, u.nonce, nil)
			if err != nil {
				log.Fatalf("cannot create message: %v", err)
			}
			batch = append(batch, msg)
			if len(batch) == batchSize {
				push()
			}
		}
	}
	push()
	return sent
}

// waitFinalized polls the API until the round has its tally published.
func waitFinalized(ctx context.Context, cli *client.HTTPclient, id *types.RoundID, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		info, err := cli.Round(id)
		if err != nil {
			return err
		}
		switch info.Status {
		case storage.RoundStatusFinalized.String():
			return nil
		case storage.RoundStatusFailed.String():
			return fmt.Errorf("round failed: %s", info.Error)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("round %s not finalized: %w", id.String(), ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// printClaims fetches and verifies the claim of every recipient.
func printClaims(cli *client.HTTPclient, r *config.Round) error {
	tally, err := cli.Tally(&r.ID)
	if err != nil {
		return err
	}
	log.Infow("round finalized",
		"applied", tally.AppliedMessages,
		"discarded", tally.DiscardedMessages,
		"totalSpent", tally.TotalSpent.String())
	total := new(big.Int)
	for recipient := uint64(1); recipient <= r.MaxRecipients; recipient++ {
		claim, err := cli.Claim(&r.ID, recipient)
		if err != nil {
			return err
		}
		cd := claim.ClaimData()
		if err := settlement.VerifyClaimData(cd, tally.Commitments()); err != nil {
			return fmt.Errorf("claim of recipient %d: %w", recipient, err)
		}
		total.Add(total, cd.Amount)
		fmt.Printf("recipient %d: votes %s, spent %s, claim %s\n",
			recipient, cd.Result.String(), cd.Spent.String(), cd.Amount.String())
	}
	fmt.Printf("total claimed %s of %s\n", total.String(), r.MatchingPool.String())
	return nil
}
