package release

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/marznodectl/internal/prompt"
)

var ErrIndexOutOfRange = errors.New("release: version index out of range")

// Latest selects the newest listed tag in scripted answers.
const Latest = "latest"

// Select returns the tag at 1-based index.
func Select(tags []string, index int) (string, error) {
	if len(tags) == 0 {
		return "", ErrNoReleases
	}
	if index < 1 || index > len(tags) {
		return "", fmt.Errorf("%w: %d not in 1..%d", ErrIndexOutOfRange, index, len(tags))
	}
	return tags[index-1], nil
}

// Lookup matches a tag by name; "latest" or empty selects the first tag.
func Lookup(tags []string, want string) (string, error) {
	if len(tags) == 0 {
		return "", ErrNoReleases
	}
	want = strings.TrimSpace(want)
	if want == "" || strings.EqualFold(want, Latest) {
		return tags[0], nil
	}
	for _, tag := range tags {
		if tag == want {
			return tag, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVersion, want)
}

// Choose runs the version selection dialogue.
func Choose(ctx context.Context, p prompt.Provider, tags []string) (string, error) {
	if len(tags) == 0 {
		return "", ErrNoReleases
	}
	if !p.Interactive() {
		want, err := p.Ask(ctx, prompt.Question{Key: prompt.KeyXrayVersion})
		if errors.Is(err, prompt.ErrNoAnswer) {
			want, err = Latest, nil
		}
		if err != nil {
			return "", err
		}
		return Lookup(tags, want)
	}

	for {
		p.Say("Available Xray-core versions:")
		for i, tag := range tags {
			p.Say("%2d) %s", i+1, tag)
		}

		raw, err := p.Ask(ctx, prompt.Question{
			Key:  prompt.KeyVersionIndex,
			Text: fmt.Sprintf("Choose a version (1-%d): ", len(tags)),
		})
		if err != nil {
			return "", err
		}
		index, convErr := strconv.Atoi(raw)
		if convErr != nil {
			p.Say("%q is not a number.", raw)
			continue
		}
		tag, err := Select(tags, index)
		if err != nil {
			p.Say("Invalid choice: %v", err)
			continue
		}

		// One shot: anything but yes goes back to the list.
		answer, err := p.Ask(ctx, prompt.Question{
			Key:  prompt.KeyConfirm,
			Text: fmt.Sprintf("Install Xray-core %s? (y/n): ", tag),
		})
		if err != nil {
			return "", err
		}
		yes, ok := prompt.YesNo(answer)
		if yes {
			return tag, nil
		}
		if !ok {
			p.Say("%q is not y or n, starting over.", answer)
		}
	}
}
