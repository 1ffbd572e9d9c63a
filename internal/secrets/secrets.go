package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"leadscout-engine/internal/config"
)

const (
	// KeyringService groups the app's secrets in the OS keychain.
	KeyringService = "leadscout"

	LLMAccount = "llm:anthropic"
)

var (
	ErrNotFound = errors.New("secret not found (set it in the keychain or via env)")

	llmEnv  = []string{"LEADSCOUT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"}
	imapEnv = []string{"LEADSCOUT_IMAP_PASSWORD"}
)

func lookup(envVars []string, account string) (string, error) {
	for _, k := range envVars {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v, nil
		}
	}
	if strings.TrimSpace(account) != "" {
		v, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(v) != "" {
			return v, nil
		}
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("keyring: %w", err)
		}
	}
	return "", ErrNotFound
}

func set(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, account, value)
}

func del(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	err := keyring.Delete(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// GetLLMKey returns the LLM API key from the environment or the keychain.
func GetLLMKey() (string, error) { return lookup(llmEnv, LLMAccount) }
func SetLLMKey(key string) error { return set(LLMAccount, key) }
func DeleteLLMKey() error { return del(LLMAccount) }
func HasLLMKey() bool {
	_, err := GetLLMKey()
	return err == nil
}

func GetIMAPPassword(account string) (string, error) { return lookup(imapEnv, account) }
func SetIMAPPassword(account, pw string) error { return set(account, pw) }
func DeleteIMAPPassword(account string) error { return del(account) }

func IMAPKeyringAccount(cfg config.Config) string {
	return fmt.Sprintf("imap:%s@%s", cfg.Email.Username, cfg.Email.IMAPHost)
}
