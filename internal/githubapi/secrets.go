package githubapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"golang.org/x/crypto/nacl/box"
)

// UngroupedSecrets collects secret names without a "_" separated prefix.
const UngroupedSecrets = "UNKNOWN"

type Secret struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type PublicKey struct {
	KeyID string `json:"keyId"`
	Key   string `json:"key"`
}

func (c *Client) ListSecrets(ctx context.Context, owner, repo string) ([]Secret, error) {
	out := []Secret{}
	opts := &github.ListOptions{PerPage: perPage}
	for {
		secrets, resp, err := c.gh.Actions.ListRepoSecrets(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list secrets: %w", err)
		}
		for _, s := range secrets.Secrets {
			out = append(out, Secret{Name: s.Name, CreatedAt: s.CreatedAt.Time, UpdatedAt: s.UpdatedAt.Time})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) PublicKey(ctx context.Context, owner, repo string) (PublicKey, error) {
	key, _, err := c.gh.Actions.GetRepoPublicKey(ctx, owner, repo)
	if err != nil {
		return PublicKey{}, fmt.Errorf("get repository public key: %w", err)
	}
	return PublicKey{KeyID: key.GetKeyID(), Key: key.GetKey()}, nil
}

// PutSecret encrypts value for the repository key and creates or replaces
// the secret.
func (c *Client) PutSecret(ctx context.Context, owner, repo, name, value string, key PublicKey) error {
	encrypted, err := Seal(key.Key, value)
	if err != nil {
		return err
	}
	secret := &github.EncryptedSecret{Name: name, KeyID: key.KeyID, EncryptedValue: encrypted}
	if _, err := c.gh.Actions.CreateOrUpdateRepoSecret(ctx, owner, repo, secret); err != nil {
		return fmt.Errorf("put secret %s: %w", name, err)
	}
	return nil
}

func (c *Client) DeleteSecret(ctx context.Context, owner, repo, name string) error {
	if _, err := c.gh.Actions.DeleteRepoSecret(ctx, owner, repo, name); err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// Seal encrypts value with a libsodium sealed box for the base64 encoded
// Curve25519 public key, returning base64.
func Seal(publicKey, value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("decode public key: expected 32 bytes, got %d", len(raw))
	}
	var recipient [32]byte
	copy(recipient[:], raw)

	sealed, err := box.SealAnonymous(nil, []byte(value), &recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// GroupSecrets groups secrets by the text before the first "_". Names
// without one go to UngroupedSecrets. Each group is sorted by name.
func GroupSecrets(secrets []Secret) map[string][]Secret {
	groups := map[string][]Secret{}
	for _, s := range secrets {
		prefix := UngroupedSecrets
		if i := strings.Index(s.Name, "_"); i > 0 {
			prefix = s.Name[:i]
		}
		groups[prefix] = append(groups[prefix], s)
	}
	for _, list := range groups {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return groups
}
