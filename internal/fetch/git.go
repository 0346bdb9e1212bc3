// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrUnpinnedSource is returned when verifying a git source whose ref is not
// a full commit hash.
var ErrUnpinnedSource = errors.New("git source is not pinned to a commit")

// gitCloner checks out git sources with go-git.
type gitCloner struct {
	auth transport.AuthMethod
}

// isCommitHash reports whether ref is a full hex SHA-1.
func isCommitHash(ref string) bool {
	return plumbing.IsHash(ref)
}

// clone checks src out into dest, replacing whatever is there, and returns
// the HEAD commit. A commit ref needs full history; tags and branches are
// cloned shallow, trying the tag with and without a "v" prefix.
func (g *gitCloner) clone(ctx context.Context, src Source, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	if isCommitHash(src.Ref) {
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
		repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{URL: src.URL, Auth: g.auth})
		if err != nil {
			return "", fmt.Errorf("cloning %s: %w", redactURL(src.URL), err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", err
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(src.Ref)}); err != nil {
			return "", fmt.Errorf("checking out %s: %w", src.Ref, err)
		}
		return src.Ref, nil
	}

	var lastErr error
	for _, ref := range candidateRefs(src.Ref) {
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
		repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:           src.URL,
			Auth:          g.auth,
			ReferenceName: ref,
			SingleBranch:  true,
			Depth:         1,
		})
		if err != nil {
			lastErr = err
			continue
		}
		head, err := repo.Head()
		if err != nil {
			return "", fmt.Errorf("reading HEAD: %w", err)
		}
		return head.Hash().String(), nil
	}
	_ = os.RemoveAll(dest)
	return "", fmt.Errorf("cloning %s at %q: %w", redactURL(src.URL), src.Ref, lastErr)
}

// candidateRefs lists the references tried for ref, in order.
func candidateRefs(ref string) []plumbing.ReferenceName {
	if ref == "" {
		return []plumbing.ReferenceName{""}
	}
	alt := "v" + ref
	if noV, ok := strings.CutPrefix(ref, "v"); ok {
		alt = noV
	}
	return []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewTagReferenceName(alt),
		plumbing.NewBranchReferenceName(ref),
	}
}

// verifyPinned reports whether the checkout at dir is the commit src pins.
func verifyPinned(dir string, src Source) (bool, error) {
	if !isCommitHash(src.Ref) {
		return false, fmt.Errorf("%w: %q", ErrUnpinnedSource, src.Ref)
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("reading HEAD: %w", err)
	}
	return strings.EqualFold(head.Hash().String(), src.Ref), nil
}
