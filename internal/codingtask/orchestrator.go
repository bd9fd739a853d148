package codingtask

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/githubapp"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/sandbox"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	// StaleAfter is how long a repo's last session stays continuable.
	StaleAfter = 24 * time.Hour

	// branchPrefix namespaces branches this orchestrator creates.
	branchPrefix = "outie"

	// maxGateRounds bounds commit-gate follow-up prompts.
	maxGateRounds = 5

	workdirRoot = "/workspace"
)

// TokenMinter mints credentials for pushes. Satisfied by githubapp.Minter.
type TokenMinter interface {
	InstallationToken(ctx context.Context) (string, error)
}

var _ TokenMinter = (*githubapp.Minter)(nil)

// Orchestrator runs one coding task end to end.
type Orchestrator struct {
	store      *storage.Store
	engine     *engine.Client
	sandbox    sandbox.Sandbox
	minter     TokenMinter
	classifier Classifier
	logger     *observability.Logger
	clock      func() time.Time
	randomHex  func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source (for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithRandomSuffix overrides branch suffix generation (for tests).
func WithRandomSuffix(fn func() string) Option {
	return func(o *Orchestrator) { o.randomHex = fn }
}

// New creates a coding-task orchestrator. minter may be nil when no GitHub
// App is configured; pushes then rely on credentials already in the sandbox.
func New(store *storage.Store, eng *engine.Client, sb sandbox.Sandbox, minter TokenMinter,
	classifier Classifier, logger *observability.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		engine:     eng,
		sandbox:    sb,
		minter:     minter,
		classifier: classifier,
		logger:     logger,
		clock:      time.Now,
		randomHex:  randomHex6,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one coding task against a repo and returns a human-readable
// outcome line.
func (o *Orchestrator) Run(ctx context.Context, repoURL, task string) (string, error) {
	decision, prior, err := o.decide(ctx, repoURL, task)
	if err != nil {
		return "", err
	}

	dir, err := o.prepareCheckout(ctx, repoURL, decision, prior)
	if err != nil {
		return "", err
	}

	sessionID, err := o.resolveSession(ctx, decision, prior, repoURL)
	if err != nil {
		return "", err
	}

	taskPrompt := fmt.Sprintf(
		"Implement this task in the repository at %s:\n\n%s\n\nWhen you are done, commit your work with a descriptive message and push the current branch.",
		dir, task)
	response, err := o.engine.Prompt(ctx, engine.PromptRequest{
		SessionID: sessionID,
		Directory: dir,
		Body:      engine.PromptBody{Parts: []engine.Part{engine.TextPart(taskPrompt)}},
	})
	if errors.Is(err, engine.ErrSessionMissing) {
		// Stale continuation handle: start over with a fresh session.
		sessionID, err = o.engine.CreateSession(ctx, "coding: "+task, dir)
		if err != nil {
			return "", err
		}
		response, err = o.engine.Prompt(ctx, engine.PromptRequest{
			SessionID: sessionID,
			Directory: dir,
			Body:      engine.PromptBody{Parts: []engine.Part{engine.TextPart(taskPrompt)}},
		})
	}
	if err != nil {
		return "", err
	}

	if err := o.runCommitGate(ctx, sessionID, dir); err != nil {
		o.logger.Warn(ctx, "commit gate gave up", "repo", repoURL, "error", err)
	}

	state := &models.CodingTaskState{
		RepoURL:       repoURL,
		Branch:        decision.Branch,
		SessionID:     sessionID,
		LastTask:      task,
		LastTimestamp: o.clock().UnixMilli(),
	}
	if err := o.store.SaveCodingTaskState(ctx, state); err != nil {
		return "", err
	}

	summary := response.Text()
	if summary == "" {
		summary = "(engine returned no text)"
	}
	return fmt.Sprintf("Branch %s, session %s.\n%s", decision.Branch, sessionID, summary), nil
}

// decide picks the continuation strategy for this task.
func (o *Orchestrator) decide(ctx context.Context, repoURL, task string) (Decision, *models.CodingTaskState, error) {
	prior, err := o.store.GetCodingTaskState(ctx, repoURL)
	if errors.Is(err, storage.ErrNotFound) {
		return o.freshDecision(task), nil, nil
	}
	if err != nil {
		return Decision{}, nil, err
	}

	elapsed := o.clock().Sub(time.UnixMilli(prior.LastTimestamp))
	if elapsed > StaleAfter {
		return o.freshDecision(task), prior, nil
	}

	decision, err := o.classifier.Classify(ctx, prior.LastTask, task)
	if err != nil {
		o.logger.Warn(ctx, "continuation classifier failed, starting fresh", "error", err)
		return o.freshDecision(task), prior, nil
	}
	if decision.Action == "continue" {
		decision.Branch = prior.Branch
		return decision, prior, nil
	}
	if decision.Branch == "" {
		decision.Branch = o.branchName(task)
	}
	return decision, prior, nil
}

func (o *Orchestrator) freshDecision(task string) Decision {
	return Decision{Action: "new", Branch: o.branchName(task)}
}

// prepareCheckout clones or refreshes the repo in the sandbox and puts the
// working tree on the decided branch.
func (o *Orchestrator) prepareCheckout(ctx context.Context, repoURL string, decision Decision, prior *models.CodingTaskState) (string, error) {
	cloneURL := repoURL
	if o.minter != nil {
		token, err := o.minter.InstallationToken(ctx)
		if err != nil {
			return "", fmt.Errorf("mint github token: %w", err)
		}
		cloneURL = injectToken(repoURL, token)
		if err := o.sandbox.SetEnv(ctx, "GITHUB_TOKEN", token); err != nil {
			return "", fmt.Errorf("install github token: %w", err)
		}
	}

	dir := fmt.Sprintf("%s/%s", workdirRoot, repoSlug(repoURL))
	clone := fmt.Sprintf(
		"if [ -d %s/.git ]; then git -C %s fetch origin; else git clone --depth 50 %s %s; fi",
		dir, dir, shellQuote(cloneURL), dir)
	if result, err := o.sandbox.Exec(ctx, clone); err != nil {
		return "", fmt.Errorf("clone repo: %w", err)
	} else if result.ExitCode != 0 {
		return "", fmt.Errorf("clone repo failed: %s", result.Stderr)
	}

	var checkout string
	if decision.Action == "continue" && prior != nil {
		checkout = fmt.Sprintf("git -C %s checkout %s && git -C %s rebase origin/HEAD || true",
			dir, shellQuote(prior.Branch), dir)
	} else {
		// Branch from the default branch; fall back to branching off the
		// current HEAD when the remote default cannot be resolved.
		checkout = fmt.Sprintf(
			"cd %s && (git checkout -b %s origin/HEAD || git checkout -b %s)",
			dir, shellQuote(decision.Branch), shellQuote(decision.Branch))
	}
	if result, err := o.sandbox.Exec(ctx, checkout); err != nil {
		return "", fmt.Errorf("checkout branch: %w", err)
	} else if result.ExitCode != 0 {
		return "", fmt.Errorf("checkout branch failed: %s", result.Stderr)
	}
	return dir, nil
}

// resolveSession reuses the prior engine session on continue, creating a new
// one otherwise.
func (o *Orchestrator) resolveSession(ctx context.Context, decision Decision, prior *models.CodingTaskState, repoURL string) (string, error) {
	if decision.Action == "continue" && prior != nil && prior.SessionID != "" {
		session, err := o.engine.Get(ctx, prior.SessionID)
		if err != nil {
			return "", err
		}
		if session != nil {
			return prior.SessionID, nil
		}
		o.logger.Info(ctx, "engine forgot the session, creating a new one", "repo", repoURL)
	}
	return o.engine.CreateSession(ctx, "coding: "+repoSlug(repoURL), "")
}

// runCommitGate keeps prompting until the working tree is clean and pushed.
// The same dirty state twice in a row means the engine is stuck; give up
// rather than loop forever.
func (o *Orchestrator) runCommitGate(ctx context.Context, sessionID, dir string) error {
	lastState := ""
	for round := 0; round < maxGateRounds; round++ {
		state, err := o.gitState(ctx, dir)
		if err != nil {
			return err
		}
		if state == "" {
			return nil
		}
		if state == lastState {
			return fmt.Errorf("commit gate: state unchanged after follow-up, giving up")
		}
		lastState = state

		o.logger.Info(ctx, "commit gate: dirty tree or unpushed commits, prompting follow-up", "round", round+1)
		followUp := "The working tree still has uncommitted changes or unpushed commits:\n\n" + state +
			"\n\nCommit everything that belongs to the task and push the branch before finishing."
		if _, err := o.engine.Prompt(ctx, engine.PromptRequest{
			SessionID: sessionID,
			Directory: dir,
			Body:      engine.PromptBody{Parts: []engine.Part{engine.TextPart(followUp)}},
		}); err != nil {
			return err
		}
	}
	return fmt.Errorf("commit gate: still dirty after %d rounds", maxGateRounds)
}

// gitState returns a non-empty description when the tree is dirty or the
// branch has unpushed commits.
func (o *Orchestrator) gitState(ctx context.Context, dir string) (string, error) {
	cmd := fmt.Sprintf(
		"cd %s && git status --porcelain && git log --oneline @{upstream}..HEAD 2>/dev/null || true", dir)
	result, err := o.sandbox.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

func (o *Orchestrator) branchName(task string) string {
	return fmt.Sprintf("%s/%s-%s", branchPrefix, slugify(task), o.randomHex())
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify reduces a task description to a short branch-safe slug.
func slugify(task string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(task), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}

func randomHex6() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "000000"
	}
	return hex.EncodeToString(buf)
}

// repoSlug derives a directory name from a repo URL.
func repoSlug(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	slug := slugPattern.ReplaceAllString(strings.ToLower(trimmed), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "repo"
	}
	return slug
}

// injectToken embeds an installation token into an https clone URL.
func injectToken(repoURL, token string) string {
	if strings.HasPrefix(repoURL, "https://") {
		return "https://x-access-token:" + token + "@" + strings.TrimPrefix(repoURL, "https://")
	}
	return repoURL
}

// shellQuote wraps a value in single quotes for the sandbox shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
