// Package dispatch implements the control dispatch entry point (spec
// §4.10): the per-peer command surface (CONNECT, RESOLVE, DISCONNECT,
// SLICE_RELEASE, SEND, RECV), enforcing the pin/lock discipline spec §5
// lays out and routing each command to the peer, transaction, and domain
// packages that do the actual work.
package dispatch

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/busd/bus1/config"
	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/errs"
	"github.com/busd/bus1/fds"
	"github.com/busd/bus1/libs/log"
	"github.com/busd/bus1/libs/metrics"
	"github.com/busd/bus1/peer"
	"github.com/busd/bus1/peerinfo"
	"github.com/busd/bus1/queue"
	"github.com/busd/bus1/transaction"
)

// Dispatcher is the shared entry point every connected peer's commands
// flow through.
type Dispatcher struct {
	Dom     *domain.Domain
	Cfg     config.Config
	Log     log.Logger
	Metrics *metrics.Metrics
}

// New returns a Dispatcher bound to dom, using cfg for bounds checking. A
// nil logger or metrics falls back to a no-op implementation.
func New(dom *domain.Domain, cfg config.Config, logger log.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Dispatcher{Dom: dom, Cfg: cfg, Log: logger, Metrics: m}
}

// Command identifies one of the six control-surface operations spec §4.10
// names. Dispatch is the single numbered entry point every one of them
// flows through — the Go analogue of the original's "one numeric argument
// pointing at a user buffer" ioctl switch.
type Command int

const (
	CmdConnect Command = iota
	CmdResolve
	CmdDisconnect
	CmdSliceRelease
	CmdSend
	CmdRecv
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdResolve:
		return "RESOLVE"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdSliceRelease:
		return "SLICE_RELEASE"
	case CmdSend:
		return "SEND"
	case CmdRecv:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}

// SliceReleaseArgs is SLICE_RELEASE's argument block.
type SliceReleaseArgs struct {
	Offset uint64
	Size   uint64
}

// Dispatch routes cmd to the matching per-command method with arg cast to
// that command's argument type, enforcing spec §4.10's "unknown command
// returns NotSupported" rule. It exists alongside the typed Connect/
// Resolve/Disconnect/SliceRelease/Send/Recv methods, not instead of them:
// those are what actually implement each command's pin/lock discipline;
// Dispatch is the single numbered surface a caller coming from outside
// this package (e.g. a wire protocol) would route a command word through.
func (d *Dispatcher) Dispatch(p *peer.Peer, cmd Command, arg interface{}) (interface{}, error) {
	switch cmd {
	case CmdConnect:
		params, ok := arg.(peer.ConnectParams)
		if !ok {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: CONNECT requires peer.ConnectParams")
		}
		return d.Connect(p, params)

	case CmdResolve:
		name, ok := arg.(string)
		if !ok {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: RESOLVE requires a string name")
		}
		return d.Resolve(name)

	case CmdDisconnect:
		if arg != nil {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: DISCONNECT takes no argument")
		}
		return nil, d.Disconnect(p)

	case CmdSliceRelease:
		args, ok := arg.(SliceReleaseArgs)
		if !ok {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: SLICE_RELEASE requires dispatch.SliceReleaseArgs")
		}
		return nil, d.SliceRelease(p, args.Offset, args.Size)

	case CmdSend:
		req, ok := arg.(SendRequest)
		if !ok {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: SEND requires dispatch.SendRequest")
		}
		return nil, d.Send(p, req)

	case CmdRecv:
		peek, ok := arg.(bool)
		if !ok {
			return nil, errors.Wrap(errs.InvalidArg, "dispatch: RECV requires a bool peek flag")
		}
		return d.Recv(p, peek)

	default:
		return nil, errors.Wrapf(errs.NotSupported, "dispatch: unknown command %d", int(cmd))
	}
}

// Connect runs CONNECT (spec §4.5 via §4.10): pin the domain's
// active-ref, then dispatch into the peer's write-side state machine.
func (d *Dispatcher) Connect(p *peer.Peer, params peer.ConnectParams) (peer.ConnectResult, error) {
	if params.PoolSize != 0 && (params.PoolSize%uint64(d.Cfg.PageSize) != 0) {
		return peer.ConnectResult{}, errors.Wrap(errs.InvalidArg, "dispatch: pool_size must be a multiple of the page size")
	}
	for _, n := range params.Names {
		if len(n)+1 > d.Cfg.NameMax {
			return peer.ConnectResult{}, errors.Wrap(errs.MsgTooBig, "dispatch: name exceeds NAME_MAX")
		}
	}

	tok, ok := d.Dom.AcquireActive()
	if !ok {
		return peer.ConnectResult{}, errors.Wrap(errs.AlreadyShutDown, "dispatch: domain already shut down")
	}
	defer d.Dom.ReleaseActive(tok)

	res, err := p.Connect(params)
	if err == nil {
		if params.Flags&(peer.FlagPeer|peer.FlagMonitor) != 0 {
			d.Metrics.ConnectsTotal.Add(1)
		}
		if params.Flags&peer.FlagReset != 0 {
			d.Metrics.ResetsTotal.Add(1)
		}
	}
	return res, err
}

// Resolve runs RESOLVE (spec §4.6 via §4.10): pin the domain's
// active-ref, then walk the name index.
func (d *Dispatcher) Resolve(name string) (uint64, error) {
	tok, ok := d.Dom.AcquireActive()
	if !ok {
		return 0, errors.Wrap(errs.AlreadyShutDown, "dispatch: domain already shut down")
	}
	defer d.Dom.ReleaseActive(tok)

	id, found := d.Dom.Resolve(name)
	if !found {
		d.Metrics.ResolveMissesTotal.Add(1)
		return 0, errors.Wrap(errs.NotFound, "dispatch: name not found")
	}
	return id, nil
}

// Disconnect runs DISCONNECT (spec §4.9 via §4.10) directly — no pinning,
// since Teardown manages the peer's own active-ref.
func (d *Dispatcher) Disconnect(p *peer.Peer) error {
	err := p.Teardown()
	if err == nil {
		d.Metrics.DisconnectsTotal.Add(1)
	}
	return err
}

// SliceRelease runs SLICE_RELEASE (spec §6): release one previously
// published pool slice back to the peer's pool.
func (d *Dispatcher) SliceRelease(p *peer.Peer, offset, size uint64) error {
	info, release, ok := p.AcquireInfo()
	if !ok {
		return errors.Wrap(errs.AlreadyShutDown, "dispatch: peer already shut down")
	}
	defer release()

	info.Mu.Lock()
	defer info.Mu.Unlock()
	return info.Pool.ReleaseOffset(offset, size)
}

// SendRequest is the SEND argument block (spec §4.7 and the GLOSSARY's
// cmd_send).
type SendRequest struct {
	Flags        transaction.Flags
	Payload      []byte
	NFiles       int
	Destinations []uint64
	StackScratch []byte
}

// Send runs SEND (spec §4.7 via §4.10): pin the sending peer's
// active-ref via AcquireInfo (which holds the peer's read-lock only while
// reading the info pointer), then build and commit a transaction.
func (d *Dispatcher) Send(p *peer.Peer, req SendRequest) error {
	if len(req.Destinations) == 0 {
		return errors.Wrap(errs.InvalidArg, "dispatch: n_destinations must be >= 1")
	}
	if req.NFiles > d.Cfg.FDMax {
		return errors.Wrap(errs.InvalidArg, "dispatch: fd count exceeds FD_MAX")
	}

	senderInfo, release, ok := p.AcquireInfo()
	if !ok {
		return errors.Wrap(errs.AlreadyShutDown, "dispatch: peer already shut down")
	}
	defer release()

	tx, err := transaction.NewFromUser(d.Dom, senderInfo.User, req.Payload, req.NFiles, req.StackScratch)
	if err != nil {
		return err
	}

	if len(req.Destinations) == 1 {
		if err := tx.CommitForID(req.Destinations[0]); err != nil {
			tx.Destroy()
			if req.Flags&transaction.IgnoreUnknown != 0 && errors.Cause(err) == errs.NotFound {
				return nil
			}
			return err
		}
		return nil
	}

	for _, id := range req.Destinations {
		if err := tx.InstantiateForID(id); err != nil {
			if req.Flags&transaction.IgnoreUnknown != 0 && errors.Cause(err) == errs.NotFound {
				continue
			}
			tx.Destroy()
			return err
		}
	}
	return tx.Commit()
}

// RecvResult is the RECV out-parameter block (spec §4.8 and §6).
type RecvResult struct {
	Offset uint64
	Size   uint64
	NFiles int
	FDs    []int
}

// Recv runs RECV (spec §4.8 via §4.10). peek selects the PEEK flag: look
// at the head message without dequeuing or installing fds.
func (d *Dispatcher) Recv(p *peer.Peer, peek bool) (RecvResult, error) {
	info, release, ok := p.AcquireInfo()
	if !ok {
		return RecvResult{}, errors.Wrap(errs.AlreadyShutDown, "dispatch: peer already shut down")
	}
	defer release()

	if peek {
		info.Mu.Lock()
		defer info.Mu.Unlock()
		n := info.Queue.Peek()
		if n == nil {
			return RecvResult{}, errors.Wrap(errs.WouldBlock, "dispatch: queue empty")
		}
		return RecvResult{Offset: n.Slice.Offset, Size: messageSize(n), NFiles: n.NFiles}, nil
	}

	res, err := d.recvDequeue(info)
	if err == nil {
		d.Metrics.MessagesReceivedTotal.Add(1)
	}
	return res, err
}

// recvDequeue implements spec §4.8's dequeue mode: pre-allocate
// close-on-exec fds outside the info mutex, then re-peek under the mutex
// and retry with a larger reservation if the message grew more fds than
// were reserved.
func (d *Dispatcher) recvDequeue(info *peerinfo.Info) (RecvResult, error) {
	info.Mu.Lock()
	head := info.Queue.Peek()
	if head == nil {
		info.Mu.Unlock()
		return RecvResult{}, errors.Wrap(errs.WouldBlock, "dispatch: queue empty")
	}
	wanted := head.NFiles
	info.Mu.Unlock()

	for {
		reserved, err := fds.Reserve(wanted)
		if err != nil {
			return RecvResult{}, err
		}

		info.Mu.Lock()
		head = info.Queue.Peek()
		if head == nil {
			info.Mu.Unlock()
			fds.Release(reserved)
			return RecvResult{}, errors.Wrap(errs.WouldBlock, "dispatch: queue empty")
		}
		if head.NFiles > len(reserved) {
			wanted = head.NFiles
			info.Mu.Unlock()
			fds.Release(reserved)
			continue
		}

		n := info.Queue.Dequeue()
		res := RecvResult{Offset: n.Slice.Offset, Size: messageSize(n), NFiles: n.NFiles}
		if n.NFiles == 0 {
			_ = info.Pool.Release(n.Slice)
		}
		info.Mu.Unlock()

		used := reserved[:n.NFiles]
		unused := reserved[n.NFiles:]
		fds.Release(unused)

		if n.NFiles > 0 {
			// Spec §4.8 step 5: write the fd numbers into the tail of the
			// published slice outside the info mutex, then reacquire the
			// mutex to deallocate the slice and install each fd.
			tail := make([]byte, n.NFiles*transaction.FDTailBytes)
			for i, fd := range used {
				binary.LittleEndian.PutUint64(tail[i*transaction.FDTailBytes:], uint64(fd))
			}

			info.Mu.Lock()
			if err := info.Pool.WriteAt(n.Slice.Offset+n.Slice.Size-uint64(len(tail)), tail); err != nil {
				// OOM during pool write: drop the fd payload silently
				// rather than re-queue (spec §4.8 step 5's fault path).
				_ = info.Pool.Release(n.Slice)
				info.Mu.Unlock()
				fds.Release(used)
				return res, nil
			}
			_ = info.Pool.Release(n.Slice)
			info.Mu.Unlock()

			for _, fd := range used {
				_ = fds.Install(fd, n.Payload)
				res.FDs = append(res.FDs, fd)
			}
		}
		return res, nil
	}
}

// messageSize recovers the sender's original payload length from a
// node's published slice. transaction.NewFromUser reserves
// NFiles*FDTailBytes bytes of headroom beyond the payload in every
// published slice so recvDequeue has somewhere to write the fd table
// (spec §4.8 step 5); that headroom is not part of the message itself and
// must not be reported back to the caller as payload size.
func messageSize(n *queue.Node) uint64 {
	return n.Slice.Size - uint64(n.NFiles*transaction.FDTailBytes)
}
