package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"

	portalTimeout = 120 * time.Second // user may need time to pick a screen
)

type pipeWireCapturer struct {
	*frameStream
	cancel context.CancelFunc
	cmd    *exec.Cmd
	dbConn *dbus.Conn // kept alive to hold the ScreenCast session
	pwFile *os.File   // PipeWire remote fd from the portal
}

func newPipeWireCapturer(width, height int) (Capturer, string, error) {
	if !hasExecutable("gst-launch-1.0") {
		return nil, "", fmt.Errorf("gst-launch-1.0 not found")
	}

	dbConn, nodeID, pwFile, err := acquirePipeWireNode()
	if err != nil {
		return nil, "", fmt.Errorf("pipewire portal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// GStreamer child process inherits pwFile via ExtraFiles.
	// ExtraFiles[0] becomes fd 3 in the child.
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", "-q",
		"pipewiresrc", fmt.Sprintf("path=%d", nodeID), "fd=3",
		"!", "videoconvert",
		"!", "videoscale", "method=bilinear",
		"!", fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height),
		"!", "fdsink", "fd=1",
	)
	cmd.ExtraFiles = []*os.File{pwFile}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("gstreamer stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("starting gstreamer: %w", err)
	}

	c := &pipeWireCapturer{
		frameStream: newFrameStream(width, height),
		cancel:      cancel,
		cmd:         cmd,
		dbConn:      dbConn,
		pwFile:      pwFile,
	}

	go c.readFrames(stdout)

	// Wait for the first frame so CaptureFrame is immediately usable.
	if err := c.waitFirst(5 * time.Second); err != nil {
		c.cancel()
		<-c.done
		_ = c.cmd.Wait()
		pwFile.Close()
		dbConn.Close()
		return nil, "", fmt.Errorf("gstreamer: %w", err)
	}

	return c, "PipeWire", nil
}

func (c *pipeWireCapturer) CaptureFrame() (*image.RGBA, error) {
	return c.latest()
}

func (c *pipeWireCapturer) Close() error {
	c.cancel()
	<-c.done
	err := c.cmd.Wait()
	c.pwFile.Close()
	c.dbConn.Close()
	return err
}

// acquirePipeWireNode negotiates a ScreenCast session via the XDG Desktop
// Portal for one monitor and returns the D-Bus connection (must stay open),
// the PipeWire node ID and a PipeWire remote file descriptor for GStreamer.
func acquirePipeWireNode() (*dbus.Conn, uint32, *os.File, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	if !conn.SupportsUnixFDs() {
		conn.Close()
		return nil, 0, nil, fmt.Errorf("D-Bus connection does not support Unix FD passing")
	}

	p := portalSession{
		conn:   conn,
		portal: conn.Object(portalDest, dbus.ObjectPath(portalPath)),
		sender: senderToToken(conn.Names()[0]),
	}
	nodeID, pwFile, err := p.start()
	if err != nil {
		conn.Close()
		return nil, 0, nil, err
	}
	return conn, nodeID, pwFile, nil
}

type portalSession struct {
	conn    *dbus.Conn
	portal  dbus.BusObject
	sender  string
	session dbus.ObjectPath
}

func (p *portalSession) start() (uint32, *os.File, error) {
	resp, err := p.request("CreateSession", "create", nil, map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant("ambiled_session"),
	})
	if err != nil {
		return 0, nil, err
	}
	handle, ok := resp["session_handle"]
	if !ok {
		return 0, nil, fmt.Errorf("CreateSession: no session_handle in response")
	}
	p.session = dbus.ObjectPath(handle.Value().(string))

	_, err = p.request("SelectSources", "select", []interface{}{p.session}, map[string]dbus.Variant{
		"types":    dbus.MakeVariant(uint32(1)), // 1 = monitor
		"multiple": dbus.MakeVariant(false),
	})
	if err != nil {
		return 0, nil, err
	}

	resp, err = p.request("Start", "start", []interface{}{p.session, ""}, nil)
	if err != nil {
		return 0, nil, err
	}
	nodeID, err := extractNodeID(resp)
	if err != nil {
		return 0, nil, err
	}

	// pipewiresrc needs this fd to connect to the portal's capture.
	var pwFd dbus.UnixFD
	err = p.portal.Call(screenCastIface+".OpenPipeWireRemote", 0, p.session, map[string]dbus.Variant{}).Store(&pwFd)
	if err != nil {
		return 0, nil, fmt.Errorf("OpenPipeWireRemote: %w", err)
	}
	pwFile := os.NewFile(uintptr(pwFd), "pipewire-remote")
	if pwFile == nil {
		return 0, nil, fmt.Errorf("invalid PipeWire fd")
	}
	return nodeID, pwFile, nil
}

// request calls a ScreenCast method that answers through a Request object
// and waits for its Response signal. The options map gets the handle token.
func (p *portalSession) request(method, token string, args []interface{}, opts map[string]dbus.Variant) (map[string]dbus.Variant, error) {
	reqToken := "ambiled_req_" + token
	reqPath := dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", portalPath, p.sender, reqToken))

	ch := make(chan *dbus.Signal, 1)
	p.conn.Signal(ch)
	defer p.conn.RemoveSignal(ch)
	p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		fmt.Sprintf("type='signal',interface='%s',member='Response',path='%s'", requestIface, reqPath))

	if opts == nil {
		opts = map[string]dbus.Variant{}
	}
	opts["handle_token"] = dbus.MakeVariant(reqToken)

	call := p.portal.Call(screenCastIface+"."+method, 0, append(args, opts)...)
	if call.Err != nil {
		return nil, fmt.Errorf("%s: %w", method, call.Err)
	}
	resp, err := waitForResponse(ch, portalTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", method, err)
	}
	return resp, nil
}

// waitForResponse waits for a portal Response signal and returns the results map.
// A non-zero response code indicates the user denied or the request failed.
func waitForResponse(ch chan *dbus.Signal, timeout time.Duration) (map[string]dbus.Variant, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case sig := <-ch:
			if sig == nil {
				return nil, fmt.Errorf("signal channel closed")
			}
			if len(sig.Body) < 2 {
				continue
			}
			code, ok := sig.Body[0].(uint32)
			if !ok {
				continue
			}
			if code != 0 {
				return nil, fmt.Errorf("portal request denied (code %d)", code)
			}
			results, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				return nil, fmt.Errorf("unexpected response type")
			}
			return results, nil
		case <-timer.C:
			return nil, fmt.Errorf("timed out waiting for portal response")
		}
	}
}

// senderToToken converts a D-Bus sender name like ":1.42" to "1_42" for use
// in request object paths.
func senderToToken(sender string) string {
	s := strings.TrimPrefix(sender, ":")
	return strings.ReplaceAll(s, ".", "_")
}

// extractNodeID pulls the PipeWire node ID of the first stream from the
// Start response. Streams are typed a(ua{sv}); depending on how the variant
// was decoded the outer value is [][]interface{} or []interface{}.
func extractNodeID(resp map[string]dbus.Variant) (uint32, error) {
	v, ok := resp["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in Start response")
	}

	var first interface{}
	switch streams := v.Value().(type) {
	case [][]interface{}:
		if len(streams) == 0 {
			return 0, fmt.Errorf("no streams returned")
		}
		first = streams[0]
	case []interface{}:
		if len(streams) == 0 {
			return 0, fmt.Errorf("no streams returned")
		}
		first = streams[0]
	default:
		return 0, fmt.Errorf("unexpected streams type: %T", v.Value())
	}

	entry, ok := first.([]interface{})
	if !ok || len(entry) == 0 {
		return 0, fmt.Errorf("unexpected stream entry type: %T", first)
	}
	nodeID, ok := entry[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected node ID type: %T", entry[0])
	}
	return nodeID, nil
}
