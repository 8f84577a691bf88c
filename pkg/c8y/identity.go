package c8y

import (
	"context"
	"net/http"
	"net/url"
)

// ManagedObjectRef identifies a device's managed object in the platform
// inventory. It is what the external-id lookup resolves to and what cached
// device entries hold.
type ManagedObjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type externalIDResponse struct {
	ManagedObject ManagedObjectRef `json:"managedObject"`
}

// GetManagedObjectByExternalID looks an external id up in the identity API.
// An unknown id returns an error satisfying IsNotFound.
func (c *Client) GetManagedObjectByExternalID(ctx context.Context, xidType, xid string) (*ManagedObjectRef, error) {
	path := "/identity/externalIds/" + url.PathEscape(xidType) + "/" + url.PathEscape(xid)
	var resp externalIDResponse
	if err := c.do(ctx, "get external id", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.ManagedObject, nil
}

type createDeviceRequest struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	IsDevice struct{} `json:"c8y_IsDevice"`
}

// CreateDevice creates a device managed object in the inventory and returns
// its reference.
func (c *Client) CreateDevice(ctx context.Context, name, deviceType string) (*ManagedObjectRef, error) {
	body := createDeviceRequest{Name: name, Type: deviceType}
	var ref ManagedObjectRef
	if err := c.do(ctx, "create device", http.MethodPost, "/inventory/managedObjects", body, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

type registerExternalIDRequest struct {
	ExternalID string `json:"externalId"`
	Type       string `json:"type"`
}

// RegisterExternalID attaches an external id to an existing managed object
// so future lookups resolve to it.
func (c *Client) RegisterExternalID(ctx context.Context, managedObjectID, xidType, xid string) error {
	path := "/identity/globalIds/" + url.PathEscape(managedObjectID) + "/externalIds"
	body := registerExternalIDRequest{ExternalID: xid, Type: xidType}
	return c.do(ctx, "register external id", http.MethodPost, path, body, nil)
}
