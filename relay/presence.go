package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

const presencePartitionID = "presence"

// Presence is a directory of which named clients currently hold an active
// relay session, keyed by client name. Announce writes a client's row and
// Withdraw clears it; Dial and Listener call neither, so callers announce
// and withdraw sessions themselves. A stale row (past staleAfter) is
// treated as absent even if never withdrawn, covering a client that
// vanished without a FIN.
//
// A presence row needs none of the Driver/Transport machinery the blob and
// queue relays carry, only upsert/get/delete against a single table.
type Presence struct {
	client     *aztables.Client
	staleAfter time.Duration
}

// presenceEntity is the table row for one client's presence.
type presenceEntity struct {
	aztables.Entity
	SessionID string
	UpdatedAt int64 // unix nanoseconds from the announcing process's clock, set on every Announce
}

// NewPresence builds a Presence directory backed by the Azure Table at ep.
// The table is created if it does not already exist.
func NewPresence(ctx context.Context, ep *Endpoint, cfg *Config, tableName string, staleAfter time.Duration) (*Presence, error) {
	if tableName == "" {
		tableName = "presence"
	}
	if staleAfter <= 0 {
		staleAfter = cfg.idleTimeout
	}

	cred, err := aztables.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	serviceURL := ep.ServiceURL() + "/" + tableName
	client, err := aztables.NewClientWithSharedKey(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}

	if _, err := client.CreateTable(ctx, nil); err != nil && !isTableAlreadyExists(err) {
		return nil, err
	}

	return &Presence{client: client, staleAfter: staleAfter}, nil
}

// aztables reports a 409 Conflict with this code for an existing table.
func isTableAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "TableAlreadyExists")
}

// Announce records that clientName now holds sessionID, overwriting
// whatever was previously announced for that name.
func (p *Presence) Announce(ctx context.Context, clientName, sessionID string) error {
	entity := presenceEntity{
		Entity: aztables.Entity{
			PartitionKey: presencePartitionID,
			RowKey:       clientName,
		},
		SessionID: sessionID,
		UpdatedAt: time.Now().UnixNano(),
	}
	body, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	_, err = p.client.UpsertEntity(ctx, body, nil)
	return err
}

// Lookup returns the session currently announced for clientName. ok is
// false when no row exists, or when the row is older than staleAfter.
func (p *Presence) Lookup(ctx context.Context, clientName string) (sessionID string, ok bool, err error) {
	resp, err := p.client.GetEntity(ctx, presencePartitionID, clientName, nil)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var entity presenceEntity
	if err := json.Unmarshal(resp.Value, &entity); err != nil {
		return "", false, err
	}
	if p.staleAfter > 0 && time.Since(time.Unix(0, entity.UpdatedAt)) > p.staleAfter {
		return "", false, nil
	}
	return entity.SessionID, true, nil
}

// Withdraw removes the presence row for clientName, e.g. on a clean
// disconnect. Withdrawing an absent row is not an error.
func (p *Presence) Withdraw(ctx context.Context, clientName string) error {
	_, err := p.client.DeleteEntity(ctx, presencePartitionID, clientName, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Clients lists every client name with a non-stale presence row.
func (p *Presence) Clients(ctx context.Context) ([]string, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", presencePartitionID)
	pager := p.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var entity presenceEntity
			if err := json.Unmarshal(raw, &entity); err != nil {
				continue
			}
			if p.staleAfter > 0 && time.Since(time.Unix(0, entity.UpdatedAt)) > p.staleAfter {
				continue
			}
			names = append(names, entity.RowKey)
		}
	}
	return names, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ResourceNotFound")
}
