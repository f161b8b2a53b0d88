package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dealhub/internal/logger"
)

const defaultVAPIDKeysPath = "config/vapid.json"

// VAPIDKeys: пара ключей сервера приложения, на которую подписываются браузеры.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *VAPIDKeys) complete() bool {
	return k != nil && k.PublicKey != "" && k.PrivateKey != ""
}

// EnsureVAPIDKeys: VAPID_PUBLIC_KEY/VAPID_PRIVATE_KEY из env, иначе файл push.vapid_file.
// Пара генерируется один раз; при смене ключей все браузерные подписки становятся недействительными.
func EnsureVAPIDKeys(path string) (*VAPIDKeys, error) {
	env := &VAPIDKeys{PublicKey: os.Getenv("VAPID_PUBLIC_KEY"), PrivateKey: os.Getenv("VAPID_PRIVATE_KEY")}
	if env.complete() {
		return env, nil
	}
	if path == "" {
		path = defaultVAPIDKeysPath
	}
	keys, err := readKeyFile(path)
	switch {
	case err == nil && keys.complete():
		return keys, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		// битый файл не перезаписываем: подписки привязаны к старому ключу
		return nil, fmt.Errorf("push.EnsureVAPIDKeys: %w", err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("push.EnsureVAPIDKeys generate: %w", err)
	}
	keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := writeKeyFile(path, keys); err != nil {
		logger.Errorf("push: VAPID keys not saved to %s: %v (using in-memory pair)", path, err)
		return keys, nil
	}
	logger.Infof("push: generated VAPID keys in %s", path)
	return keys, nil
}

func readKeyFile(path string) (*VAPIDKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &keys, nil
}

// writeKeyFile пишет во временный файл и переименовывает, чтобы не оставить половину JSON.
func writeKeyFile(path string, keys *VAPIDKeys) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vapid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
