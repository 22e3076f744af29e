package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// EnsureChatTable creates the chat archive table if it does not exist yet.
func EnsureChatTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	return IgnoreExists(err, string(aztables.TableAlreadyExists))
}

// IgnoreExists swallows Azure "already exists" responses carrying code.
func IgnoreExists(err error, code string) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == code {
		return nil
	}
	return err
}
