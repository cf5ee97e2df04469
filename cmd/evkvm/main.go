// SPDX-License-Identifier: MIT

package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/evan-goode/evkvm/capture"
	"github.com/evan-goode/evkvm/client"
	"github.com/evan-goode/evkvm/config"
	"github.com/evan-goode/evkvm/identity"
	"github.com/evan-goode/evkvm/inject"
	"github.com/evan-goode/evkvm/keycode"
	"github.com/evan-goode/evkvm/logger"
	"github.com/evan-goode/evkvm/server"
	"github.com/evan-goode/evkvm/switcher"
	"github.com/evan-goode/evkvm/transport"
	"github.com/evan-goode/evkvm/wire"
)

var (
	configPath = flag.String("config", defaultConfigPath(), "path to the TOML configuration file")
	verbose    = flag.Bool("verbose", false, "enable verbose logging")
)

func defaultConfigPath() string {
	return "/etc/evkvm/config.toml"
}

func main() {
	flag.Parse()

	level := logger.LevelError
	if *verbose {
		level = logger.LevelVerbose
	}
	log := logger.New(level, "evkvm")

	if flag.Arg(0) == "fingerprint" {
		if err := runFingerprint(*configPath); err != nil {
			log.Errorf("fingerprint: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(*configPath, log); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func runFingerprint(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cert, err := loadIdentity(cfg.IdentityPath)
	if err != nil {
		return err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse identity certificate: %w", err)
	}
	fmt.Println(identity.Fingerprint(leaf))
	return nil
}

// loadIdentity reads the PEM-encoded end-entity certificate and PKCS#8
// private key at path. Generating a self-signed identity when the file
// is absent is the external collaborator's contract (see the identity
// section of DESIGN.md); this loader only reads what is already there.
func loadIdentity(path string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: read %s: %w", path, err)
	}

	var certDER []byte
	var keyPEM []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = block.Bytes
		default:
			keyPEM = pem.EncodeToMemory(block)
		}
	}
	if certDER == nil || keyPEM == nil {
		return tls.Certificate{}, fmt.Errorf("identity: %s missing certificate or private key block", path)
	}

	cert, err := tls.X509KeyPair(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: parse key pair: %w", err)
	}
	return cert, nil
}

func run(path string, log *logger.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	cert, err := loadIdentity(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	comboKeys, err := keycode.ParseAll(cfg.SwitchKeys)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		closeStop()
	}()

	manager := capture.NewManager("/dev/input", log)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	defer manager.Close()

	localWriters := inject.NewManager(log)
	defer localWriters.Close()

	sw := switcher.New(comboKeys, localTarget{localWriters}, log)

	var wg sync.WaitGroup

	if len(cfg.Receivers) > 0 {
		if err := runServerRole(cfg, cert, manager, sw, log, &wg, stop); err != nil {
			return err
		}
	}

	for _, sender := range cfg.Senders {
		runClientRole(sender, cert, log, &wg, stop)
	}

	go func() {
		for {
			msg, err := manager.Next()
			if err != nil {
				log.Errorf("capture: fatal: %v", err)
				closeStop()
				return
			}
			if err := sw.Handle(msg); err != nil {
				log.Errorf("switcher: fatal: %v", err)
				closeStop()
				return
			}

			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	<-stop
	wg.Wait()
	return nil
}

func runServerRole(cfg *config.Config, cert tls.Certificate, manager *capture.Manager, sw *switcher.Switcher, log *logger.Logger, wg *sync.WaitGroup, stop <-chan struct{}) error {
	accepted := make([]string, 0, len(cfg.Receivers))
	nicks := make(map[string]string, len(cfg.Receivers))
	for _, r := range cfg.Receivers {
		accepted = append(accepted, r.Fingerprint)
		nicks[r.Fingerprint] = r.Nick
	}

	tlsConfig := transport.ServerTLSConfig(cert, accepted)
	listener, err := transport.Listen(cfg.ListenAddress, tlsConfig, log)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	srv := server.New(listener, sw, nicks, manager.Snapshot, log)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(); err != nil {
			log.Errorf("server: %v", err)
		}
	}()

	go func() {
		<-stop
		listener.Close()
	}()

	return nil
}

func runClientRole(sender config.Sender, cert tls.Certificate, log *logger.Logger, wg *sync.WaitGroup, stop <-chan struct{}) {
	manager := inject.NewManager(log)
	tlsConfig := transport.ClientTLSConfig(cert, sender.Address, sender.Fingerprint)
	address := fmt.Sprintf("%s:%d", sender.Address, sender.Port)
	nick := sender.Nick
	if nick == "" {
		nick = sender.Address
	}

	sup := client.New(nick, address, tlsConfig, manager, log)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer manager.Close()
		sup.Run(stop)
	}()
}

// localTarget adapts the writer manager to switcher.Target for the
// current==0 (local) routing case.
type localTarget struct {
	manager *inject.Manager
}

func (l localTarget) Send(msg wire.Message) error {
	return l.manager.Apply(msg)
}
