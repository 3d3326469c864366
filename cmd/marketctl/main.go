// Command marketctl creates keys and signs marketplace transactions.
// Signed transactions are printed as JSON, ready for POST /api/v1/tx.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/hypermarket/pkg/app/core/transaction"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "marketctl",
		Usage: "sign hypermarket transactions",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate a secp256k1 account key",
				Action: keygen,
			},
			{
				Name:   "sequencer-key",
				Usage:  "print the BLS public key derived from a sequencer seed",
				Action: sequencerKey,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "seed", EnvVars: []string{"SEQUENCER_SEED"}, Required: true},
				},
			},
			{
				Name:  "sign",
				Usage: "sign a transaction",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "hex private key", EnvVars: []string{"MARKETCTL_KEY"}, Required: true},
					&cli.Int64Flag{Name: "chain-id", Value: 1337, EnvVars: []string{"CHAIN_ID"}},
					&cli.StringFlag{Name: "submit", Usage: "node API base URL, e.g. http://localhost:8080"},
				},
				Subcommands: []*cli.Command{
					{
						Name:  "deposit",
						Usage: "credit an account (signed by the bridge key)",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "to", Required: true},
							&cli.Uint64Flag{Name: "amount", Required: true},
							nonceFlag(),
						},
						Action: signWith(func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error) {
							to, err := address(c.String("to"))
							if err != nil {
								return nil, err
							}
							return transaction.NewDeposit(from, to, c.Uint64("amount"), c.Uint64("nonce")), nil
						}),
					},
					{
						Name:  "mint",
						Usage: "mint an asset to the signer",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "uri", Required: true},
							nonceFlag(),
						},
						Action: signWith(func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error) {
							return transaction.NewMint(from, c.String("uri"), c.Uint64("nonce")), nil
						}),
					},
					{
						Name:  "approve",
						Usage: "approve an operator (normally the ledger) for one asset",
						Flags: []cli.Flag{
							&cli.Uint64Flag{Name: "asset", Required: true},
							&cli.StringFlag{Name: "operator", Required: true},
							nonceFlag(),
						},
						Action: signWith(func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error) {
							op, err := address(c.String("operator"))
							if err != nil {
								return nil, err
							}
							return transaction.NewApprove(from, c.Uint64("asset"), op, c.Uint64("nonce")), nil
						}),
					},
					{
						Name:  "list",
						Usage: "list an asset for sale",
						Flags: []cli.Flag{
							&cli.Uint64Flag{Name: "asset", Required: true},
							&cli.Uint64Flag{Name: "price", Required: true},
							&cli.Uint64Flag{Name: "fee", Usage: "listing fee attached to the call", Required: true},
							nonceFlag(),
						},
						Action: signWith(func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error) {
							return transaction.NewList(from, c.Uint64("asset"), c.Uint64("price"), c.Uint64("fee"), c.Uint64("nonce")), nil
						}),
					},
					{
						Name:  "buy",
						Usage: "buy a listing",
						Flags: []cli.Flag{
							&cli.Uint64Flag{Name: "listing", Required: true},
							&cli.Uint64Flag{Name: "payment", Required: true},
							nonceFlag(),
						},
						Action: signWith(func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error) {
							return transaction.NewBuy(from, c.Uint64("listing"), c.Uint64("payment"), c.Uint64("nonce")), nil
						}),
					},
				},
			},
		},
	}
}

func nonceFlag() cli.Flag {
	return &cli.Uint64Flag{Name: "nonce", Usage: "account nonce (last used + 1)", Required: true}
}

func keygen(c *cli.Context) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "address: %s\n", key.Address().Hex())
	fmt.Fprintf(c.App.Writer, "key:     0x%s\n", key.PrivateKeyHex())
	return nil
}

func sequencerKey(c *cli.Context) error {
	s, err := crypto.NewBLSSignerFromSeed([]byte(c.String("seed")))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, crypto.EncodeSignature(s.PubkeyBytes()))
	return nil
}

type buildFunc func(c *cli.Context, from common.Address) (*transaction.SignedTransaction, error)

func signWith(build buildFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		key, err := crypto.FromPrivateKeyHex(c.String("key"))
		if err != nil {
			return err
		}
		tx, err := build(c, key.Address())
		if err != nil {
			return err
		}
		domain := crypto.DefaultDomain()
		domain.ChainID = big.NewInt(c.Int64("chain-id"))
		if err := transaction.Sign(domain, key, tx); err != nil {
			return err
		}

		out, err := json.MarshalIndent(tx, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(out))

		if base := c.String("submit"); base != "" {
			raw, err := tx.Serialize()
			if err != nil {
				return err
			}
			return submit(c.App.Writer, strings.TrimSuffix(base, "/"), raw)
		}
		return nil
	}
}

func submit(w io.Writer, base string, raw []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(base+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	fmt.Fprintf(w, "submitted: %s\n", bytes.TrimSpace(body))
	return nil
}

func address(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, errors.New("invalid address: " + v)
	}
	return common.HexToAddress(v), nil
}
