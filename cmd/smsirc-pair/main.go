// smsirc-pair performs interactive WhatsApp QR-code pairing. It opens the
// whatsmeow device store directly (no running daemon required), displays
// the QR code in the terminal, waits for the user to scan it, persists the
// credentials into SQLite, and exits. smsircd can then connect using the
// stored credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/smsirc/smsirc/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "smsirc-pair: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to smsirc config (default: "+config.DefaultConfigPath()+")")
	flag.Parse()

	if *configPath == "" {
		*configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.Whatsapp.DBPath
	if err := config.EnsureDir(dbPath); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := waLog.Stdout("WhatsApp", "ERROR", true)
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, logger)
	if err != nil {
		return fmt.Errorf("open whatsapp store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	if device.ID != nil {
		fmt.Fprintf(os.Stderr, "already paired (jid=%s)\n", device.ID.String())
		fmt.Fprintf(os.Stderr, "to re-pair, delete %s and run this command again\n", dbPath)
		return nil
	}

	client := whatsmeow.NewClient(device, logger)

	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	fmt.Fprintln(os.Stderr, "scan this QR code with WhatsApp on your phone:")
	fmt.Fprintln(os.Stderr, "(Settings → Linked Devices → Link a Device)")
	fmt.Fprintln(os.Stderr)

	for evt := range qrChan {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted")
		default:
		}

		switch evt.Event {
		case "code":
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stderr)
			fmt.Fprintln(os.Stderr)
			fmt.Fprintln(os.Stderr, "waiting for scan...")
		case "success":
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "paired successfully! credentials saved to %s\n", dbPath)
			return nil
		case "timeout":
			return fmt.Errorf("QR code expired; run this command again")
		}
	}

	return fmt.Errorf("pairing ended unexpectedly")
}
