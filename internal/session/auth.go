package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// defaultKeyFiles are tried in order when no credentials are configured.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// clientConfig builds the SSH client configuration for the host.
//
// Credentials are chosen in priority order: user and password, user and key
// file, then the invoking user's agent and default keys.
func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	h := s.host
	cfg := &ssh.ClientConfig{
		User:            h.User,
		Timeout:         s.connectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	ambient := false

	switch {
	case h.User != "" && h.Password != "":
		cfg.Auth = []ssh.AuthMethod{
			ssh.Password(h.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = h.Password
				}
				return answers, nil
			}),
		}

	case h.User != "" && h.KeyFile != "":
		signer, err := loadKey(h.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}

	default:
		if cfg.User == "" {
			u, err := user.Current()
			if err != nil {
				return nil, fmt.Errorf("failed to determine current user: %w", err)
			}
			cfg.User = u.Username
		}

		auth, err := s.ambientAuth()
		if err != nil {
			return nil, err
		}
		cfg.Auth = auth
		ambient = true
	}

	if ambient || s.strictHostKeys {
		cb, err := s.hostKeyCallback()
		if err != nil {
			return nil, err
		}
		cfg.HostKeyCallback = cb
	}

	return cfg, nil
}

// ambientAuth collects the agent and default key files of the invoking user.
func (s *SSH) ambientAuth() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			s.log.Debug("ssh agent unavailable", zap.String("socket", sock), zap.Error(err))
		} else {
			s.agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		var signers []ssh.Signer
		for _, name := range defaultKeyFiles {
			signer, err := loadKey(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			signers = append(signers, signer)
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no credentials configured and no ssh agent or default key available")
	}
	return methods, nil
}

// hostKeyCallback verifies host keys against known_hosts. Unknown hosts are
// accepted unless strict checking is enabled; mismatched keys are always rejected.
func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := s.knownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			if s.strictHostKeys {
				return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
			}
			return ssh.InsecureIgnoreHostKey(), nil
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	check, err := knownhosts.New(expandHome(path))
	if err != nil {
		if s.strictHostKeys {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if s.strictHostKeys {
		return check, nil
	}
	return trustUnknown(check), nil
}

// trustUnknown accepts hosts absent from known_hosts while still rejecting
// hosts whose recorded key differs.
func trustUnknown(check ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return nil
		}
		return err
	}
}

// loadKey reads and parses a private key file.
func loadKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return signer, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
