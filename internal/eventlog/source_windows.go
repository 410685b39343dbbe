//go:build windows

package eventlog

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// Compile-time interface check
var _ Source = SystemSource{}

var (
	advapi32          = windows.NewLazySystemDLL("advapi32.dll")
	procOpenEventLogW = advapi32.NewProc("OpenEventLogW")
	procReadEventLogW = advapi32.NewProc("ReadEventLogW")
	procCloseEventLog = advapi32.NewProc("CloseEventLog")
)

const (
	evtSequentialRead = 0x0001
	evtBackwardsRead  = 0x0008

	// LoadLibraryEx flags for opening message files as data only.
	loadLibraryAsDataFile      = 0x00000002
	loadLibraryAsImageResource = 0x00000020

	readBufferSize = 0x10000
)

// SystemSource reads from the native event log service.
type SystemSource struct{}

// Open opens the named log on the local machine.
func (SystemSource) Open(name string) (Cursor, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid log name: %w", err)
	}
	handle, _, callErr := procOpenEventLogW.Call(0, uintptr(unsafe.Pointer(namePtr)))
	if handle == 0 {
		return nil, fmt.Errorf("OpenEventLog %q: %w", name, callErr)
	}
	return &systemCursor{
		handle:   windows.Handle(handle),
		buf:      make([]byte, readBufferSize),
		renderer: newMessageRenderer(name),
	}, nil
}

// systemCursor walks a log backward (newest first) in sequential mode.
// Records decoded from one read call that exceed the caller's batch
// size stay queued for the next Read.
type systemCursor struct {
	handle   windows.Handle
	buf      []byte
	pending  []RawRecord
	renderer *messageRenderer
	eof      bool
}

func (c *systemCursor) Read(max int) ([]RawRecord, error) {
	if max <= 0 {
		return nil, nil
	}
	if len(c.pending) == 0 {
		if c.eof {
			return nil, io.EOF
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
	n := max
	if n > len(c.pending) {
		n = len(c.pending)
	}
	out := c.pending[:n]
	c.pending = c.pending[n:]
	return out, nil
}

// fill performs one ReadEventLog call and queues the decoded records,
// growing the buffer when the next record does not fit.
func (c *systemCursor) fill() error {
	var read, needed uint32
	for {
		ret, _, callErr := procReadEventLogW.Call(
			uintptr(c.handle),
			uintptr(evtBackwardsRead|evtSequentialRead),
			0,
			uintptr(unsafe.Pointer(&c.buf[0])),
			uintptr(len(c.buf)),
			uintptr(unsafe.Pointer(&read)),
			uintptr(unsafe.Pointer(&needed)),
		)
		if ret != 0 {
			break
		}
		errno, ok := callErr.(syscall.Errno)
		if !ok {
			return fmt.Errorf("ReadEventLog: %v", callErr)
		}
		switch errno {
		case windows.ERROR_INSUFFICIENT_BUFFER:
			if int(needed) <= len(c.buf) {
				return fmt.Errorf("ReadEventLog: stuck resizing, needed %d of %d", needed, len(c.buf))
			}
			c.buf = make([]byte, needed)
		case windows.ERROR_HANDLE_EOF:
			c.eof = true
			return io.EOF
		default:
			return fmt.Errorf("ReadEventLog: %w", errno)
		}
	}

	if read == 0 {
		c.eof = true
		return io.EOF
	}
	native := decodeRecords(c.buf[:read])
	if len(native) == 0 {
		return fmt.Errorf("no decodable records in %d-byte read", read)
	}
	for _, rec := range native {
		c.pending = append(c.pending, c.toRaw(rec))
	}
	return nil
}

func (c *systemCursor) toRaw(rec nativeRecord) RawRecord {
	raw := RawRecord{
		Time:   rec.timeGenerated,
		Source: rec.source,
		RawID:  rec.eventID,
	}
	if rec.err != nil {
		raw.RenderErr = rec.err
		return raw
	}
	message, err := c.renderer.render(rec.source, rec.eventID, rec.inserts)
	if err != nil {
		raw.RenderErr = err
		return raw
	}
	raw.Message = message
	return raw
}

func (c *systemCursor) Close() error {
	c.renderer.close()
	if c.handle == 0 {
		return nil
	}
	ret, _, callErr := procCloseEventLog.Call(uintptr(c.handle))
	c.handle = 0
	if ret == 0 {
		return fmt.Errorf("CloseEventLog: %w", callErr)
	}
	return nil
}

// sourceModules caches the loaded message files of one provider, or
// the reason none could be loaded.
type sourceModules struct {
	handles []windows.Handle
	err     error
}

// messageRenderer resolves record messages through the message files
// each provider registers under the log's registry key.
type messageRenderer struct {
	logName string
	cache   map[string]*sourceModules
}

func newMessageRenderer(logName string) *messageRenderer {
	return &messageRenderer{
		logName: logName,
		cache:   make(map[string]*sourceModules),
	}
}

func (r *messageRenderer) close() {
	for _, mods := range r.cache {
		for _, h := range mods.handles {
			windows.FreeLibrary(h)
		}
	}
	r.cache = make(map[string]*sourceModules)
}

// render produces the record's message text. Providers without a
// usable template fall back to the raw insertion strings, which is
// what the system event viewer shows for unregistered sources.
func (r *messageRenderer) render(source string, eventID uint32, inserts []string) (string, error) {
	mods := r.modulesFor(source)
	for _, h := range mods.handles {
		if msg, ok := formatFromModule(h, eventID, inserts); ok {
			return msg, nil
		}
	}
	if len(inserts) > 0 {
		return strings.Join(inserts, " "), nil
	}
	if mods.err != nil {
		return "", mods.err
	}
	return "", fmt.Errorf("no message template for event %d from %q", eventID, source)
}

func (r *messageRenderer) modulesFor(source string) *sourceModules {
	if mods, ok := r.cache[source]; ok {
		return mods
	}
	mods := &sourceModules{}
	r.cache[source] = mods

	keyPath := `SYSTEM\CurrentControlSet\Services\EventLog\` + r.logName + `\` + source
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, keyPath, registry.QUERY_VALUE)
	if err != nil {
		mods.err = fmt.Errorf("provider registry key: %w", err)
		return mods
	}
	defer key.Close()

	value, _, err := key.GetStringValue("EventMessageFile")
	if err != nil {
		mods.err = fmt.Errorf("EventMessageFile value: %w", err)
		return mods
	}
	expanded, err := registry.ExpandString(value)
	if err != nil {
		expanded = value
	}

	for _, path := range strings.Split(expanded, ";") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		h, err := windows.LoadLibraryEx(path, 0, loadLibraryAsDataFile|loadLibraryAsImageResource)
		if err != nil {
			continue
		}
		mods.handles = append(mods.handles, h)
	}
	if len(mods.handles) == 0 && mods.err == nil {
		mods.err = fmt.Errorf("no loadable message file for source %q", source)
	}
	return mods
}

// formatFromModule formats the event's template from one message file,
// substituting the record's insertion strings.
func formatFromModule(module windows.Handle, eventID uint32, inserts []string) (string, bool) {
	flags := uint32(windows.FORMAT_MESSAGE_FROM_HMODULE)
	var args *byte
	var ptrs []*uint16
	if len(inserts) > 0 {
		flags |= windows.FORMAT_MESSAGE_ARGUMENT_ARRAY
		argv := make([]uintptr, len(inserts))
		ptrs = make([]*uint16, len(inserts))
		for i, s := range inserts {
			p, err := windows.UTF16PtrFromString(s)
			if err != nil {
				return "", false
			}
			ptrs[i] = p
			argv[i] = uintptr(unsafe.Pointer(p))
		}
		args = (*byte)(unsafe.Pointer(&argv[0]))
	} else {
		flags |= windows.FORMAT_MESSAGE_IGNORE_INSERTS
	}

	buf := make([]uint16, 8192)
	n, err := windows.FormatMessage(flags, uintptr(module), eventID, 0, buf, args)
	runtime.KeepAlive(ptrs)
	if err != nil || n == 0 {
		return "", false
	}
	return strings.TrimSpace(windows.UTF16ToString(buf[:n])), true
}
