package client

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/trusted-setup/phase1-coordinator/adapters"
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	clog "github.com/trusted-setup/phase1-coordinator/log"
)

// Config parameterizes a Runner. Timeouts mirror the reference values
// of spec.md §5.
type Config struct {
	BaseURL        string
	Keypair        Keypair
	WorkDir        string
	Offline        bool
	Rand           adapters.RandomSource
	UpdateInterval time.Duration // heartbeat + poll cadence, reference 15s
	OfflineWindow  time.Duration // reference 15 minutes
	Environment    adapters.Environment
}

// DefaultConfig returns a Config with the reference timeouts from
// spec.md §5 and the same ceremony Environment the coordinator's
// adapters package derives (see coordinator.Open).
func DefaultConfig(baseURL string, kp Keypair) Config {
	return Config{
		BaseURL:        baseURL,
		Keypair:        kp,
		WorkDir:        ".",
		UpdateInterval: 15 * time.Second,
		OfflineWindow:  15 * time.Minute,
		Rand:           adapters.EntropySource("default-entropy"),
		Environment:    adapters.NewEnvironment("phase1-ceremony"),
	}
}

// Runner drives the contributor client state machine of spec.md §4.8:
// JoinQueue → (Polling ↔ Queued) → Promoted → Locked → Downloaded →
// Computed → Uploaded → Notified → Finished | Banned.
type Runner struct {
	pubkey         string
	priv           ed25519.PrivateKey
	transport      *transport
	log            *clog.Logger
	state          State
	offline        bool
	workDir        string
	rand           adapters.RandomSource
	env            adapters.Environment
	updateInterval time.Duration
	offlineWindow  time.Duration
}

// NewRunner builds a Runner from cfg. The contributor's identity is
// its Ed25519 public key, hex-encoded exactly as the server expects in
// every REST call's pubkey field.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		pubkey:         cfg.Keypair.PublicKeyHex(),
		priv:           cfg.Keypair.Private,
		transport:      newTransport(cfg.BaseURL),
		log:            clog.Default().Module("client"),
		state:          Start,
		offline:        cfg.Offline,
		workDir:        cfg.WorkDir,
		rand:           cfg.Rand,
		env:            cfg.Environment,
		updateInterval: cfg.UpdateInterval,
		offlineWindow:  cfg.OfflineWindow,
	}
}

// State reports the Runner's current stage, for callers that render
// progress (the interactive CLI rendering itself is out of scope per
// spec.md §1 — this is the data that rendering would consume).
func (r *Runner) State() State { return r.state }

// Run drives the full contributor workflow to a terminal state:
// Finished or Banned. It returns nil once Finished is reached, and an
// error if the participant is Banned or a REST call fails unrecoverably.
func (r *Runner) Run() error {
	r.state = Start
	if err := r.transport.joinQueue(r.pubkey); err != nil {
		return err
	}
	r.state = JoinedQueue
	r.log.Info("joined queue", "pubkey", r.pubkey)

	if err := r.pollUntilPromoted(); err != nil {
		return err
	}
	r.state = Promoted

	cancelHeartbeat := r.startHeartbeat()
	contributeErr := r.contributeAllChunks()
	cancelHeartbeat()
	if contributeErr != nil {
		return contributeErr
	}

	return r.pollThrough()
}

// pollUntilPromoted polls queue_status every UpdateInterval, rendering
// Queue(pos,size) (estimate = pos × 5 min per spec.md §4.8), until the
// contributor is promoted into the active round or reaches a terminal
// state early (banned before ever being promoted).
func (r *Runner) pollUntilPromoted() error {
	for {
		r.state = Polling
		status, err := r.transport.queueStatus(r.pubkey)
		if err != nil {
			return err
		}
		switch status.Status {
		case "Round":
			return nil
		case "Banned":
			r.state = Banned
			return ceremony.NewError(ceremony.ErrInvalidParticipant, "banned while queued")
		case "Finished":
			r.state = Finished
			return nil
		default:
			r.state = Queued
			eta := time.Duration(status.Position) * 5 * time.Minute
			r.log.Info("queued", "position", status.Position, "size", status.Size, "eta", eta)
		}
		time.Sleep(r.updateInterval)
	}
}

// contributeAllChunks repeats Lock → Download → Compute → Sign →
// Upload → Notify until get_tasks_left reports zero remaining tasks
// for this contributor.
func (r *Runner) contributeAllChunks() error {
	for {
		left, err := r.transport.tasksLeft(r.pubkey)
		if err != nil {
			return err
		}
		if left == 0 {
			return nil
		}
		if err := r.contributeOneChunk(); err != nil {
			return err
		}
	}
}

func (r *Runner) contributeOneChunk() error {
	locked, err := r.transport.lockChunk(r.pubkey)
	if err != nil {
		return err
	}
	r.state = Locked
	r.log.Info("locked chunk", "chunk", locked.NextContribution.ChunkID)

	challenge, err := r.transport.challenge(locked.CurrentContribution)
	if err != nil {
		return err
	}
	r.state = Downloaded

	var response []byte
	if r.offline {
		response, err = r.computeOffline(challenge)
	} else {
		response, err = r.computeInProcess(challenge, int(locked.NextContribution.RoundHeight))
	}
	if err != nil {
		return err
	}
	r.state = Computed

	fileSig, info, err := r.sign(challenge, response)
	if err != nil {
		return err
	}
	sigBytes, err := json.Marshal(fileSig)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "encode contribution file signature", err)
	}

	if err := r.transport.uploadChunk(locked.NextContribution, response, sigBytes); err != nil {
		return err
	}
	r.state = Uploaded

	locator, err := r.transport.contributeChunk(r.pubkey, locked.NextContribution.ChunkID)
	if err != nil {
		return err
	}
	r.state = Notified
	r.log.Info("contributed", "chunk", locked.NextContribution.ChunkID, "locator", locator)

	info.CeremonyRound = locked.NextContribution.RoundHeight
	info.PublicKey = r.pubkey
	info.EndContributionAt = time.Now()
	if err := r.transport.submitContributionInfo(info); err != nil {
		r.log.Warn("submit contribution info failed", "err", err)
	}
	return nil
}

// sign builds the ContributionFileSignature over the challenge/response
// pair and the ContributionInfo metadata record, per spec.md §4.8:
// contribution_file_hash = H(file), contribution_hash =
// H(file[prelude_len..]), both signed and embedded.
func (r *Runner) sign(challenge, response []byte) (ceremony.ContributionFileSignature, ceremony.ContributionInfo, error) {
	const preludeLen = 64
	fileHash := adapters.ChallengeHash(response)
	var contribHash []byte
	if len(response) > preludeLen {
		contribHash = adapters.ChallengeHash(response[preludeLen:])
	} else {
		contribHash = adapters.ChallengeHash(response)
	}

	state := ceremony.ContributionState{
		ChallengeHash: adapters.ChallengeHash(challenge),
		ResponseHash:  fileHash,
	}
	message, err := adapters.CanonicalMessage(state)
	if err != nil {
		return ceremony.ContributionFileSignature{}, ceremony.ContributionInfo{}, err
	}
	var sig adapters.Signature
	fileSigHex := sig.Sign(r.priv, message)
	contribSigHex := sig.Sign(r.priv, hexutil.Encode(contribHash))

	fileSig := ceremony.ContributionFileSignature{State: state, Signature: fileSigHex}
	info := ceremony.ContributionInfo{
		ContributionFileHash:      hexutil.Encode(fileHash),
		ContributionFileSignature: fileSigHex,
		ContributionHash:          hexutil.Encode(contribHash),
		ContributionSignature:     contribSigHex,
	}
	return fileSig, info, nil
}

// pollThrough resumes polling queue_status until the contributor
// reaches a terminal state (spec.md §4.8 "Poll-through").
func (r *Runner) pollThrough() error {
	for {
		status, err := r.transport.queueStatus(r.pubkey)
		if err != nil {
			return err
		}
		switch status.Status {
		case "Finished":
			r.state = Finished
			return nil
		case "Banned":
			r.state = Banned
			return ceremony.NewError(ceremony.ErrInvalidParticipant, "banned during verification")
		}
		time.Sleep(r.updateInterval)
	}
}
