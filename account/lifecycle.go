package account

import (
	"context"
	"os"

	"github.com/opd-ai/accountd/crypto"
	"github.com/sirupsen/logrus"
)

// ResetStore wipes accountRoot and opens a fresh secret store under
// storageRoot. Removal and directory creation failures are logged and
// tolerated; only the failure to open the new store is returned.
func ResetStore(ctx context.Context, accountRoot, storageRoot, filename string, opts ...crypto.StoreOption) (*crypto.SecretStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(accountRoot); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "ResetStore",
			"account_root": accountRoot,
			"error":        err.Error(),
		}).Warn("Failed to remove account directory, continuing")
	}

	if err := os.MkdirAll(storageRoot, 0o700); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "ResetStore",
			"storage_root": storageRoot,
			"error":        err.Error(),
		}).Warn("Failed to recreate storage directory")
	}

	store, err := crypto.OpenOrCreate(storageRoot, filename, opts...)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "ResetStore",
			"storage_root": storageRoot,
			"error":        err.Error(),
		}).Error("Failed to open fresh secret store")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ResetStore",
		"path":     store.Path(),
	}).Info("Account reset to an empty secret store")
	return store, nil
}
