// Package remote implements the Remote Execution Plane: every
// cross-host effect in an experiment goes through a Plane. It owns a
// pool of SSH sessions keyed by (host address, user), opened lazily
// and discarded on transport failure rather than retried in place —
// retrying a failed command is a policy decision of higher layers.
package remote

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Host is a named reachable endpoint this experiment drives.
type Host struct {
	Name       string // "source" or "destination", used in log fields and errors
	Address    string
	User       string
	KeyPath    string
	WorkingDir string
}

func (h Host) key() string {
	return h.User + "@" + h.Address
}

// Result is the outcome of a synchronous exec call. It is always
// returned, even for a non-zero exit code — the plane never turns a
// remote command's exit status into a Go error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Plane is the Remote Execution Plane described in spec §4.1.
type Plane struct {
	log *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	client *ssh.Client
}

// New creates a Plane. log may be nil, in which case a disabled
// logger is used.
func New(log *logrus.Entry) *Plane {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}

	return &Plane{
		log:      log,
		sessions: make(map[string]*session),
	}
}

// getSession returns the pooled SSH client for host, dialing a fresh
// connection if none is cached or the cached one has gone bad.
func (p *Plane) getSession(h Host) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[h.key()]; ok {
		return s.client, nil
	}

	signer, err := loadSigner(h.KeyPath)
	if err != nil {
		return nil, &TransportError{Host: h.Name, Reason: fmt.Errorf("load key: %w", err)}
	}

	cfg := &ssh.ClientConfig{
		User:            h.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // "accept new" — ephemeral cloud hosts, §4.1
		Timeout:         15 * time.Second,
	}

	addr := h.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, &TransportError{Host: h.Name, Reason: err}
	}

	p.sessions[h.key()] = &session{client: client}
	p.log.WithFields(logrus.Fields{"host": h.Name, "addr": addr}).Debug("opened ssh session")

	return client, nil
}

// discard drops a session so the next call re-dials. Called whenever
// a transport-level error is observed on it.
func (p *Plane) discard(h Host) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[h.key()]; ok {
		_ = s.client.Close()
		delete(p.sessions, h.key())
	}
}

// Exec runs cmd synchronously on host and returns the tuple even on a
// non-zero exit code. timeout <= 0 means no deadline.
func (p *Plane) Exec(h Host, cmd string, timeout time.Duration) (Result, error) {
	client, err := p.getSession(h)
	if err != nil {
		return Result{}, err
	}

	sess, err := client.NewSession()
	if err != nil {
		p.discard(h)
		return Result{}, &TransportError{Host: h.Name, Reason: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	var runErr error
	if timeout > 0 {
		select {
		case runErr = <-done:
		case <-time.After(timeout):
			_ = sess.Signal(ssh.SIGKILL)
			p.discard(h)
			return Result{}, &TransportError{Host: h.Name, Reason: fmt.Errorf("command timed out after %s: %s", timeout, cmd)}
		}
	} else {
		runErr = <-done
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			// Transport failure, not a remote nonzero exit.
			p.discard(h)
			return Result{}, &TransportError{Host: h.Name, Reason: runErr}
		}
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// ExecBackground launches cmd detached on host and returns once the
// remote shell has accepted it; it never waits for completion.
// Stdin/stdout/stderr are redirected to /dev/null on the remote side
// so the control process holds no descriptor the workload could block
// on when later checkpointed (§9).
func (p *Plane) ExecBackground(h Host, cmd string) error {
	client, err := p.getSession(h)
	if err != nil {
		return err
	}

	sess, err := client.NewSession()
	if err != nil {
		p.discard(h)
		return &TransportError{Host: h.Name, Reason: err}
	}

	wrapped := fmt.Sprintf("nohup sh -c %s > /dev/null 2>&1 < /dev/null &", shellQuote(cmd))
	if err := sess.Start(wrapped); err != nil {
		sess.Close()
		p.discard(h)
		return &TransportError{Host: h.Name, Reason: err}
	}

	// Don't Wait(): the point of exec_background is that the plane
	// never joins it. Close once the shell has forked the job.
	go func() {
		_ = sess.Wait()
		sess.Close()
	}()

	return nil
}

// UploadFile pushes local to remote on host via SFTP.
func (p *Plane) UploadFile(h Host, local, remotePath string) error {
	client, err := p.sftpClient(h)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open local %s: %w", local, err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("create remote %s: %w", remotePath, err)}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("copy to %s: %w", remotePath, err)}
	}

	return nil
}

// UploadBytes writes content directly to remotePath on host, the way
// a deployed standalone workload script is written without a local
// staging file.
func (p *Plane) UploadBytes(h Host, content []byte, remotePath string) error {
	client, err := p.sftpClient(h)
	if err != nil {
		return err
	}
	defer client.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("create remote %s: %w", remotePath, err)}
	}
	defer dst.Close()

	if _, err := dst.Write(content); err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("write %s: %w", remotePath, err)}
	}

	return nil
}

// DownloadFile pulls remote from host to local via SFTP.
func (p *Plane) DownloadFile(h Host, remotePath, local string) error {
	client, err := p.sftpClient(h)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("open remote %s: %w", remotePath, err)}
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create local %s: %w", local, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("copy from %s: %w", remotePath, err)}
	}

	return nil
}

// DownloadDir pulls every file under remoteDir on host matching glob
// into localDir, recursing into subdirectories so that a numbered
// checkpoint-directory tree (working_dir/1, working_dir/2, …) is
// mirrored in full rather than just its top level. Each file is
// individually recoverable: a failure on one file is skipped (logged)
// rather than aborting the batch, and the return value lists only the
// files that actually transferred.
func (p *Plane) DownloadDir(h Host, remoteDir, localDir, glob string) ([]string, error) {
	client, err := p.sftpClient(h)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var transferred []string
	if err := p.downloadDirRecursive(client, h, remoteDir, localDir, glob, &transferred); err != nil {
		return transferred, err
	}

	return transferred, nil
}

func (p *Plane) downloadDirRecursive(client *sftp.Client, h Host, remoteDir, localDir, glob string, transferred *[]string) error {
	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return &TransportError{Host: h.Name, Reason: fmt.Errorf("readdir %s: %w", remoteDir, err)}
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("mkdir local %s: %w", localDir, err)
	}

	for _, entry := range entries {
		remotePath := remoteDir + "/" + entry.Name()
		localPath := localDir + "/" + entry.Name()

		if entry.IsDir() {
			if err := p.downloadDirRecursive(client, h, remotePath, localPath, glob, transferred); err != nil {
				p.log.WithFields(logrus.Fields{"host": h.Name, "dir": remotePath, "err": err}).Warn("skipping subdirectory in download batch")
			}

			continue
		}

		if glob != "" {
			if ok, _ := matchGlob(glob, entry.Name()); !ok {
				continue
			}
		}

		if err := p.downloadOne(client, h, remotePath, localPath); err != nil {
			p.log.WithFields(logrus.Fields{"host": h.Name, "file": remotePath, "err": err}).Warn("skipping file in download batch")
			continue
		}

		*transferred = append(*transferred, localPath)
	}

	return nil
}

func (p *Plane) downloadOne(client *sftp.Client, h Host, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (p *Plane) sftpClient(h Host) (*sftp.Client, error) {
	client, err := p.getSession(h)
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		p.discard(h)
		return nil, &TransportError{Host: h.Name, Reason: fmt.Errorf("sftp handshake: %w", err)}
	}

	return sc, nil
}

// Close tears down the pooled session for host, if any.
func (p *Plane) Close(h Host) {
	p.discard(h)
}

// CloseAll tears down every pooled session.
func (p *Plane) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, s := range p.sessions {
		_ = s.client.Close()
		delete(p.sessions, key)
	}
}
