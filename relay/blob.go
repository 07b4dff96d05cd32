package relay

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
)

const blobScheme = "azblob"

// maxBlobPayload is the carrier message limit for the blob backend. Append
// blocks can hold 4 MB, but smaller records keep a file transfer's progress
// observable and its memory bounded.
const maxBlobPayload = 256 * 1024

// blobRotateAfter is how many records are appended to one blob before the
// writer seals it and continues in the next, staying clear of the 50,000
// append-block limit.
const blobRotateAfter = 49000

// blobRotateMark is the record-length sentinel that tells the reader to
// move to the next blob in the sequence. Real records are far below it.
const blobRotateMark = uint32(0xFFFFFFFF)

func init() {
	RegisterDriver(blobScheme, newBlobDriver)
}

// blobDriver keeps offers as empty block blobs in the offers container,
// with the offer JSON carried in blob metadata so one list call returns
// every pending offer without per-blob downloads. Each session is its own
// container holding two append blobs: "c2s-0" appended by the client,
// "s2c-0" by the server.
type blobDriver struct {
	svc *service.Client
	cfg *Config
}

func newBlobDriver(ep *Endpoint, cfg *Config) (Driver, error) {
	cred, err := azblob.NewSharedKeyCredential(ep.Account, ep.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(ep.ServiceURL(), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientCreationFailed, err)
	}
	svc := client.ServiceClient()
	if _, err := svc.CreateContainer(cfg.ctx, cfg.offersName, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, err
	}
	return &blobDriver{svc: svc, cfg: cfg}, nil
}

func (d *blobDriver) offers() *container.Client {
	return d.svc.NewContainerClient(d.cfg.offersName)
}

func (d *blobDriver) sessionContainer(id string) string {
	return d.cfg.sessionPrefix + id
}

func (d *blobDriver) PostOffer(o Offer) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	_, err = d.offers().NewBlockBlobClient(o.SessionID).Upload(d.cfg.ctx,
		streaming.NopCloser(bytes.NewReader(nil)),
		&blockblob.UploadOptions{Metadata: map[string]*string{"offer": &encoded}},
	)
	return err
}

func (d *blobDriver) CollectOffers() ([]Offer, error) {
	pager := d.offers().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Include: container.ListBlobsInclude{Metadata: true},
	})
	var out []Offer
	for pager.More() {
		page, err := pager.NextPage(d.cfg.ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Metadata == nil {
				continue
			}
			encoded, ok := item.Metadata["offer"]
			if !ok || encoded == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(*encoded)
			if err != nil {
				continue
			}
			var o Offer
			if err := json.Unmarshal(raw, &o); err != nil {
				continue
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func (d *blobDriver) ClearOffer(o Offer) error {
	_, err := d.offers().NewBlobClient(o.SessionID).Delete(d.cfg.ctx, nil)
	return err
}

// OpenCarrier creates the session container and both append blobs
// idempotently on whichever side gets here first; the offer race between
// Dial posting and Accept picking up makes either ordering possible.
func (d *blobDriver) OpenCarrier(sessionID string, initiator bool) (Carrier, error) {
	name := d.sessionContainer(sessionID)
	cc := d.svc.NewContainerClient(name)
	if _, err := d.svc.CreateContainer(d.cfg.ctx, name, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, err
	}
	for _, dir := range []string{"c2s", "s2c"} {
		if _, err := cc.NewAppendBlobClient(dir + "-0").Create(d.cfg.ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return nil, err
		}
	}
	tx, rx := "c2s", "s2c"
	if !initiator {
		tx, rx = "s2c", "c2s"
	}
	return &blobCarrier{cfg: d.cfg, container: cc, txDir: tx, rxDir: rx}, nil
}

func (d *blobDriver) CleanupSession(sessionID string) error {
	_, err := d.svc.NewContainerClient(d.sessionContainer(sessionID)).Delete(d.cfg.ctx, nil)
	return err
}

// blobCarrier turns two append blobs into a message pipe. An append blob is
// a byte stream, so every Send appends one u32-length-prefixed record and
// Recv range-reads past its offset and splits records back out.
type blobCarrier struct {
	cfg       *Config
	container *container.Client
	txDir     string
	rxDir     string

	mu       sync.Mutex
	txSeq    int
	rxSeq    int
	appended int
	offset   int64
	pending  bytes.Buffer // downloaded but not yet split into records
}

func blobName(dir string, seq int) string {
	return dir + "-" + strconv.Itoa(seq)
}

func (c *blobCarrier) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(rec, uint32(len(msg)))
	copy(rec[4:], msg)
	name := blobName(c.txDir, c.txSeq)
	if _, err := c.container.NewAppendBlobClient(name).AppendBlock(c.cfg.ctx, streaming.NopCloser(bytes.NewReader(rec)), nil); err != nil {
		return err
	}
	c.appended++

	if c.appended >= blobRotateAfter {
		var mark [4]byte
		binary.BigEndian.PutUint32(mark[:], blobRotateMark)
		if _, err := c.container.NewAppendBlobClient(name).AppendBlock(c.cfg.ctx, streaming.NopCloser(bytes.NewReader(mark[:])), nil); err != nil {
			return err
		}
		c.txSeq++
		c.appended = 0
		if _, err := c.container.NewAppendBlobClient(blobName(c.txDir, c.txSeq)).Create(c.cfg.ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *blobCarrier) Recv() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.pending.Len() >= 4 {
			n := binary.BigEndian.Uint32(c.pending.Bytes()[:4])
			if n == blobRotateMark {
				c.pending.Next(4)
				c.rxSeq++
				c.offset = 0
				continue
			}
			if c.pending.Len() >= int(4+n) {
				c.pending.Next(4)
				return append([]byte(nil), c.pending.Next(int(n))...), nil
			}
		}

		resp, err := c.container.NewBlobClient(blobName(c.rxDir, c.rxSeq)).DownloadStream(c.cfg.ctx,
			&blob.DownloadStreamOptions{Range: blob.HTTPRange{Offset: c.offset}})
		if err != nil {
			if isBlobNoData(err) {
				return nil, ErrNoData
			}
			return nil, err
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if len(data) == 0 {
			return nil, ErrNoData
		}
		c.offset += int64(len(data))
		c.pending.Write(data)
	}
}

// isBlobNoData matches "blob not there yet" and "nothing past the read
// offset yet", both of which just mean poll again later.
func isBlobNoData(err error) bool {
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		return re.StatusCode == http.StatusNotFound || re.StatusCode == http.StatusRequestedRangeNotSatisfiable
	}
	return false
}

func (c *blobCarrier) MaxPayload() int { return maxBlobPayload }
func (c *blobCarrier) Close() error    { return nil }
