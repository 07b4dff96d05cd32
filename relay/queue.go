package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

const queueScheme = "azqueue"

// maxQueuePayload is the carrier message limit for the queue backend: a
// queue message holds 64 KB of text, and the envelope is base64'd into it.
const maxQueuePayload = (64 * 1024 * 3) / 4

func init() {
	RegisterDriver(queueScheme, newQueueDriver)
}

// queueDriver keeps offers as messages on the offers queue, and each
// session as a pair of queues: "<prefix><id>-c2s" written by the client and
// "<prefix><id>-s2c" written by the server. Queue messages are already
// delimited, so the carrier needs no framing of its own.
type queueDriver struct {
	svc *azqueue.ServiceClient
	cfg *Config
}

func newQueueDriver(ep *Endpoint, cfg *Config) (Driver, error) {
	cred, err := azqueue.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	svc, err := azqueue.NewServiceClientWithSharedKeyCredential(ep.ServiceURL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	if _, err := svc.CreateQueue(cfg.ctx, cfg.offersName, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return nil, err
	}
	return &queueDriver{svc: svc, cfg: cfg}, nil
}

func (d *queueDriver) sessionQueue(id, dir string) string {
	return d.cfg.sessionPrefix + id + "-" + dir
}

func (d *queueDriver) PostOffer(o Offer) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = d.svc.NewQueueClient(d.cfg.offersName).EnqueueMessage(d.cfg.ctx, base64.StdEncoding.EncodeToString(raw), nil)
	return err
}

// CollectOffers dequeues pending offers; the dequeue is destructive, so
// ClearOffer has nothing left to do for this backend.
func (d *queueDriver) CollectOffers() ([]Offer, error) {
	q := d.svc.NewQueueClient(d.cfg.offersName)
	resp, err := q.DequeueMessages(d.cfg.ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr[int32](32),
		VisibilityTimeout: to.Ptr[int32](60),
	})
	if err != nil {
		return nil, err
	}
	var out []Offer
	for _, msg := range resp.Messages {
		if msg.MessageText == nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(*msg.MessageText)
		if err != nil {
			continue
		}
		var o Offer
		if err := json.Unmarshal(raw, &o); err != nil {
			continue
		}
		out = append(out, o)
		if msg.MessageID != nil && msg.PopReceipt != nil {
			_, _ = q.DeleteMessage(d.cfg.ctx, *msg.MessageID, *msg.PopReceipt, nil)
		}
	}
	return out, nil
}

func (d *queueDriver) ClearOffer(Offer) error { return nil }

// OpenCarrier creates both session queues idempotently on whichever side
// gets here first; the offer race between Dial posting and Accept picking
// up makes either ordering possible.
func (d *queueDriver) OpenCarrier(sessionID string, initiator bool) (Carrier, error) {
	c2s, s2c := d.sessionQueue(sessionID, "c2s"), d.sessionQueue(sessionID, "s2c")
	for _, name := range []string{c2s, s2c} {
		if _, err := d.svc.CreateQueue(d.cfg.ctx, name, nil); err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
			return nil, err
		}
	}
	tx, rx := c2s, s2c
	if !initiator {
		tx, rx = s2c, c2s
	}
	return &queueCarrier{
		cfg: d.cfg,
		tx:  d.svc.NewQueueClient(tx),
		rx:  d.svc.NewQueueClient(rx),
	}, nil
}

func (d *queueDriver) CleanupSession(sessionID string) error {
	_, err1 := d.svc.NewQueueClient(d.sessionQueue(sessionID, "c2s")).Delete(d.cfg.ctx, nil)
	_, err2 := d.svc.NewQueueClient(d.sessionQueue(sessionID, "s2c")).Delete(d.cfg.ctx, nil)
	if err1 != nil {
		return err1
	}
	return err2
}

// queueCarrier sends one base64'd envelope per queue message. A dequeue can
// return a batch, so surplus messages are held back and handed out one per
// Recv call in arrival order.
type queueCarrier struct {
	cfg *Config
	tx  *azqueue.QueueClient
	rx  *azqueue.QueueClient

	mu      sync.Mutex
	backlog [][]byte
}

func (c *queueCarrier) Send(msg []byte) error {
	_, err := c.tx.EnqueueMessage(c.cfg.ctx, base64.StdEncoding.EncodeToString(msg), nil)
	return err
}

func (c *queueCarrier) Recv() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.backlog) > 0 {
		msg := c.backlog[0]
		c.backlog = c.backlog[1:]
		return msg, nil
	}

	resp, err := c.rx.DequeueMessages(c.cfg.ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages: to.Ptr[int32](32),
	})
	if err != nil {
		return nil, err
	}
	for _, msg := range resp.Messages {
		if msg.MessageText == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(*msg.MessageText)
		if err != nil {
			continue
		}
		c.backlog = append(c.backlog, data)
		if msg.MessageID != nil && msg.PopReceipt != nil {
			_, _ = c.rx.DeleteMessage(c.cfg.ctx, *msg.MessageID, *msg.PopReceipt, nil)
		}
	}
	if len(c.backlog) == 0 {
		return nil, ErrNoData
	}
	msg := c.backlog[0]
	c.backlog = c.backlog[1:]
	return msg, nil
}

func (c *queueCarrier) MaxPayload() int { return maxQueuePayload }
func (c *queueCarrier) Close() error    { return nil }
