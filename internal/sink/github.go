package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"

	"govbot/internal/proposal"
)

// GitHubParams wires the doc sink to its repositories. Owner/Repo hold the
// branch and file; UpstreamOwner/Repo is the pull-request target in a fork
// workflow. DevMode points the pull request back at Owner/Repo.
type GitHubParams struct {
	Token         string
	Owner         string
	Repo          string
	UpstreamOwner string
	DevMode       bool

	Dir        string
	BaseBranch string
	EpochYear  int
	TermOffset int
}

// GitHub publishes a proposal document as a pull request: assign a term.seq
// number, create an isolated branch, add the file, open the PR. The steps are
// externally visible and not rolled back on later failure; an existing branch
// from an earlier partial run is skipped over rather than treated as an error.
type GitHub struct {
	client *github.Client
	p      GitHubParams
	now    func() time.Time
	log    zerolog.Logger
}

func NewGitHub(p GitHubParams, log zerolog.Logger) *GitHub {
	if p.DevMode || strings.TrimSpace(p.UpstreamOwner) == "" {
		p.UpstreamOwner = p.Owner
	}
	return &GitHub{
		client: github.NewClient(nil).WithAuthToken(p.Token),
		p:      p,
		now:    time.Now,
		log:    log,
	}
}

func (g *GitHub) Publish(ctx context.Context, ev proposal.Event, doc, author, title string) error {
	number, err := g.nextNumber(ctx)
	if err != nil {
		return fmt.Errorf("assign number: %w", err)
	}
	branch := "prop/" + ev.ID

	if err := g.createBranch(ctx, branch); err != nil {
		return fmt.Errorf("branch %s: %w", branch, err)
	}
	if err := g.createFile(ctx, branch, number, doc); err != nil {
		return fmt.Errorf("file %s.md: %w", number, err)
	}
	if err := g.openPullRequest(ctx, branch, number, author, title); err != nil {
		return fmt.Errorf("pull request for %s: %w", branch, err)
	}
	g.log.Info().Str("proposal", ev.ID).Str("number", number).Msg("document published")
	return nil
}

// nextNumber lists the proposals directory on the canonical repo and counts
// documents already in the current term. Two publishers racing here can
// collide on a number; the host's file creation fails or overwrites, which is
// accepted (see DESIGN.md).
func (g *GitHub) nextNumber(ctx context.Context) (string, error) {
	term := termFor(g.now().Year(), g.p.EpochYear, g.p.TermOffset)

	_, entries, _, err := g.client.Repositories.GetContents(
		ctx, g.p.UpstreamOwner, g.p.Repo, g.p.Dir,
		&github.RepositoryContentGetOptions{Ref: g.p.BaseBranch},
	)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.GetName())
	}
	return fmt.Sprintf("%d.%d", term, nextSequence(term, names)), nil
}

func termFor(year, epochYear, termOffset int) int {
	return (year - epochYear) + termOffset
}

func nextSequence(term int, names []string) int {
	prefix := strconv.Itoa(term) + "."
	n := 0
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n + 1
}

func (g *GitHub) createBranch(ctx context.Context, branch string) error {
	base, _, err := g.client.Git.GetRef(ctx, g.p.Owner, g.p.Repo, "heads/"+g.p.BaseBranch)
	if err != nil {
		return err
	}
	_, _, err = g.client.Git.CreateRef(ctx, g.p.Owner, g.p.Repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: base.Object.SHA},
	})
	if isAlreadyExists(err) {
		// Leftover from a partially-failed earlier run; reuse it.
		g.log.Warn().Str("branch", branch).Msg("branch exists, continuing")
		return nil
	}
	return err
}

func (g *GitHub) createFile(ctx context.Context, branch, number, doc string) error {
	path := g.p.Dir + "/" + number + ".md"
	// The client transmits content base64-encoded, so non-ASCII bodies
	// survive the trip.
	_, _, err := g.client.Repositories.CreateFile(ctx, g.p.Owner, g.p.Repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr("Add EP " + number),
		Content: []byte(doc),
		Branch:  github.Ptr(branch),
	})
	return err
}

func (g *GitHub) openPullRequest(ctx context.Context, branch, number, author, title string) error {
	head := branch
	if g.p.UpstreamOwner != g.p.Owner {
		head = g.p.Owner + ":" + branch
	}
	prTitle := "Add EP " + number
	if title != "" {
		prTitle += ": " + title
	}
	body := "Automated pull request adding a newly created governance proposal to the docs.\n\nProposed by " + author + "."
	_, _, err := g.client.PullRequests.Create(ctx, g.p.UpstreamOwner, g.p.Repo, &github.NewPullRequest{
		Title:               github.Ptr(prTitle),
		Head:                github.Ptr(head),
		Base:                github.Ptr(g.p.BaseBranch),
		Body:                github.Ptr(body),
		MaintainerCanModify: github.Ptr(true),
	})
	return err
}

func isAlreadyExists(err error) bool {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil {
		return false
	}
	return er.Response.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(er.Message), "already exists")
}
