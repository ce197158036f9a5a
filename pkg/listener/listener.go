// Package listener creates the server's TCP endpoint in explicit stages.
//
// Binding and listening are separate steps so the process can bind in the
// foreground (where failures still reach the terminal), hand the bound socket
// to a detached child, and only then start listening. Every failure is a
// *SetupError naming the stage that failed.
package listener

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// EnvInheritFD names the environment variable carrying the descriptor number
// of a bound socket passed down by a detaching parent.
const EnvInheritFD = "DITTOLOG_INHERIT_FD"

// Stage identifies the setup step that failed.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageSocket  Stage = "socket"
	StageBind    Stage = "bind"
	StageListen  Stage = "listen"
	StageInherit Stage = "inherit"
)

// SetupError reports a failed listener setup step.
type SetupError struct {
	Stage Stage
	Addr  string
	Err   error
}

func (e *SetupError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the step may succeed. Address
// resolution and descriptor inheritance fail the same way every time.
func (e *SetupError) Retryable() bool {
	return e.Stage != StageResolve && e.Stage != StageInherit
}

// Resolve turns host and port into a TCP address. An empty host means all
// IPv4 interfaces.
func Resolve(host string, port int) (*net.TCPAddr, error) {
	if host == "" {
		host = "0.0.0.0"
	}
	hostport := net.JoinHostPort(host, strconv.Itoa(port))

	addr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return nil, &SetupError{Stage: StageResolve, Addr: hostport, Err: err}
	}
	if addr.IP == nil {
		addr.IP = net.IPv4zero
	}
	return addr, nil
}

// Socket is a bound TCP socket that is not yet accepting connections.
type Socket struct {
	mu        sync.Mutex
	fd        int
	file      *os.File
	addr      *net.TCPAddr
	listening bool
	inherited bool
}

// Bind resolves host:port, creates a stream socket with SO_REUSEADDR and binds
// it. Port 0 selects an ephemeral port, see Port.
func Bind(host string, port int) (*Socket, error) {
	addr, err := Resolve(host, port)
	if err != nil {
		return nil, err
	}

	domain, sa := sockaddr(addr)

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &SetupError{Stage: StageSocket, Addr: addr.String(), Err: err}
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, &SetupError{Stage: StageSocket, Addr: addr.String(), Err: err}
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, &SetupError{Stage: StageBind, Addr: addr.String(), Err: err}
	}

	bound, err := localAddr(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &SetupError{Stage: StageBind, Addr: addr.String(), Err: err}
	}

	return &Socket{
		fd:   fd,
		file: os.NewFile(uintptr(fd), "dittolog-socket"),
		addr: bound,
	}, nil
}

// Inherited adopts a bound socket passed through EnvInheritFD. It returns
// false when the variable is not set. The variable is cleared so the socket
// is not handed further down.
func Inherited() (*Socket, bool, error) {
	value, ok := os.LookupEnv(EnvInheritFD)
	if !ok || value == "" {
		return nil, false, nil
	}
	_ = os.Unsetenv(EnvInheritFD)

	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return nil, true, &SetupError{Stage: StageInherit, Err: fmt.Errorf("invalid descriptor %q", value)}
	}

	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, true, &SetupError{Stage: StageInherit, Err: fmt.Errorf("descriptor %d: %w", fd, err)}
	}
	if typ != unix.SOCK_STREAM {
		return nil, true, &SetupError{Stage: StageInherit, Err: fmt.Errorf("descriptor %d is not a stream socket", fd)}
	}

	addr, err := localAddr(fd)
	if err != nil {
		return nil, true, &SetupError{Stage: StageInherit, Err: err}
	}
	unix.CloseOnExec(fd)

	return &Socket{
		fd:        fd,
		file:      os.NewFile(uintptr(fd), "dittolog-socket"),
		addr:      addr,
		inherited: true,
	}, true, nil
}

// Listen starts accepting connections with the given backlog (<= 0 selects
// SOMAXCONN) and returns a net.Listener owning the socket. The Socket itself is
// released; later Close calls are no-ops.
func (s *Socket) Listen(backlog int) (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, &SetupError{Stage: StageListen, Addr: s.addr.String(), Err: os.ErrClosed}
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	if err := unix.Listen(s.fd, backlog); err != nil {
		return nil, &SetupError{Stage: StageListen, Addr: s.addr.String(), Err: err}
	}

	// FileListener duplicates the descriptor.
	ln, err := net.FileListener(s.file)
	if err != nil {
		return nil, &SetupError{Stage: StageListen, Addr: s.addr.String(), Err: err}
	}

	_ = s.file.Close()
	s.file = nil
	s.listening = true
	return ln, nil
}

// File returns the socket as an *os.File for exec.Cmd.ExtraFiles. The file
// stays owned by the Socket.
func (s *Socket) File() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Addr returns the bound local address.
func (s *Socket) Addr() *net.TCPAddr {
	return s.addr
}

// Port returns the bound local port.
func (s *Socket) Port() int {
	return s.addr.Port
}

// IsInherited reports whether the socket came from a parent process.
func (s *Socket) IsInherited() bool {
	return s.inherited
}

// Close releases the socket unless Listen already handed it over.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}

func localAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}

	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	default:
		return nil, fmt.Errorf("unsupported socket address %T", sa)
	}
}
