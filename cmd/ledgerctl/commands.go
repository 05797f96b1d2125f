package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Ledgerlink/body"
	"github.com/bartossh/Ledgerlink/client"
	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/keys"
	"github.com/bartossh/Ledgerlink/mirror"
	"github.com/bartossh/Ledgerlink/receipt"
	"github.com/bartossh/Ledgerlink/schedule"
	"github.com/bartossh/Ledgerlink/signshare"
	"github.com/bartossh/Ledgerlink/transaction"
)

func parseCurve(name string) (keys.Curve, error) {
	switch name {
	case "ed25519", "":
		return keys.Ed25519, nil
	case "secp256k1", keys.ECDSASecp256k1.String():
		return keys.ECDSASecp256k1, nil
	}
	return 0, fmt.Errorf("unknown curve %q, use ed25519 or secp256k1", name)
}

func readKeys(paths []string) ([]keys.PrivateKey, error) {
	out := make([]keys.PrivateKey, 0, len(paths))
	for _, p := range paths {
		k, err := keys.ReadFromPem(p)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", p, err)
		}
		out = append(out, k)
	}
	return out, nil
}

func printReceipt(id ids.TransactionID, rc receipt.Receipt) {
	rows := pterm.TableData{{"transaction", id.String()}, {"status", rc.Status.String()}}
	if rc.AccountID != nil {
		rows = append(rows, []string{"account", rc.AccountID.String()})
	}
	if rc.TopicID != nil {
		rows = append(rows, []string{"topic", rc.TopicID.String()})
	}
	if rc.TopicSequenceNumber != 0 {
		rows = append(rows, []string{"sequence", fmt.Sprint(rc.TopicSequenceNumber)})
	}
	if rc.ScheduleID != nil {
		rows = append(rows, []string{"schedule", rc.ScheduleID.String()})
	}
	if rc.ScheduledTransactionID != nil {
		rows = append(rows, []string{"scheduled transaction", rc.ScheduledTransactionID.String()})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
}

// submit executes the transaction and waits for the receipt of its last chunk.
func (a *app) submit(c *client.Client, tx *transaction.Transaction) error {
	responses, err := c.ExecuteAll(a.ctx, tx)
	if err != nil {
		return err
	}
	rc, err := c.GetReceipt(a.ctx, responses[len(responses)-1])
	printReceipt(tx.TransactionID(), rc)
	return err
}

// finish signs the frozen transaction with the given keys, then stores it for other signers
// or submits it.
func (a *app) finish(c *client.Client, tx *transaction.Transaction, signers []keys.PrivateKey, store bool) error {
	for _, k := range signers {
		if err := tx.Sign(k); err != nil {
			return err
		}
	}
	if !store {
		return a.submit(c, tx)
	}
	s, err := a.store()
	if err != nil {
		return err
	}
	h, err := s.Put(tx)
	if err != nil {
		return err
	}
	success("transaction [ %s ] stored under handle %s", tx.TransactionID(), h)
	return nil
}

var (
	signFlag  = &cli.StringSliceFlag{Name: "sign", Aliases: []string{"k"}, Usage: "Sign with the private key from PEM `FILE`, repeatable"}
	storeFlag = &cli.BoolFlag{Name: "store", Usage: "Store the frozen transaction for offline signing instead of submitting it"}
)

func keygenCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generates a private key and saves it to a PEM file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "curve", Value: "ed25519", Usage: "Key `CURVE`, ed25519 or secp256k1"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "Write the key to `FILE`"},
		},
		Action: func(ctx *cli.Context) error {
			curve, err := parseCurve(ctx.String("curve"))
			if err != nil {
				return err
			}
			k, err := keys.GeneratePrivateKey(curve)
			if err != nil {
				return err
			}
			if err := k.SaveToPem(ctx.String("out")); err != nil {
				return err
			}
			success("%s public key %s", curve, k.PublicKey())
			return nil
		},
	}
}

func balanceCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Queries the balance of an account.",
		ArgsUsage: "<account>",
		Action: func(ctx *cli.Context) error {
			account, err := ids.ParseAccountID(ctx.Args().First())
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			b, err := c.GetAccountBalance(a.ctx, account)
			if err != nil {
				return err
			}
			success("account [ %s ] holds [ %d ] tinybars", b.AccountID, b.Tinybars)
			return nil
		},
	}
}

func transferCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Transfers tinybars between two accounts.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Required: true, Usage: "Debited `ACCOUNT`"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Credited `ACCOUNT`"},
			&cli.Int64Flag{Name: "amount", Required: true, Usage: "`TINYBARS` to transfer"},
			&cli.StringFlag{Name: "memo", Usage: "Transaction `MEMO`"},
			signFlag, storeFlag,
		},
		Action: func(ctx *cli.Context) error {
			from, err := ids.ParseAccountID(ctx.String("from"))
			if err != nil {
				return err
			}
			to, err := ids.ParseAccountID(ctx.String("to"))
			if err != nil {
				return err
			}
			signers, err := readKeys(ctx.StringSlice("sign"))
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			tx, err := c.Freeze(transaction.New(body.NewTransfer(from, to, ctx.Int64("amount"))).SetMemo(ctx.String("memo")))
			if err != nil {
				return err
			}
			return a.finish(c, tx, signers, ctx.Bool("store"))
		},
	}
}

func topicCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "topic",
		Usage: "Submits a message to a consensus topic, splitting it in chunks when needed.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "topic", Required: true, Usage: "Consensus `TOPIC` id"},
			&cli.StringFlag{Name: "message", Usage: "Message `TEXT`"},
			&cli.StringFlag{Name: "file", Usage: "Read the message from `FILE`"},
			&cli.IntFlag{Name: "max-chunks", Value: transaction.DefaultMaxChunks, Usage: "Maximum number of `CHUNKS`"},
			signFlag, storeFlag,
		},
		Action: func(ctx *cli.Context) error {
			topic, err := ids.ParseTopicID(ctx.String("topic"))
			if err != nil {
				return err
			}
			message := []byte(ctx.String("message"))
			if f := ctx.String("file"); f != "" {
				if message, err = os.ReadFile(f); err != nil {
					return err
				}
			}
			signers, err := readKeys(ctx.StringSlice("sign"))
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			tx, err := c.Freeze(transaction.New(&body.TopicMessageSubmit{TopicID: topic, Message: message}).
				SetMaxChunks(ctx.Int("max-chunks")))
			if err != nil {
				return err
			}
			pterm.Info.Println(fmt.Sprintf("message split in [ %d ] chunks", tx.ChunkCount()))
			return a.finish(c, tx, signers, ctx.Bool("store"))
		},
	}
}

func receiptCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "receipt",
		Usage:     "Waits for the receipt of a transaction submitted to a node.",
		ArgsUsage: "<transaction id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Required: true, Usage: "`ACCOUNT` of the node that accepted the transaction"},
			&cli.BoolFlag{Name: "record", Usage: "Buy the transaction record as well"},
		},
		Action: func(ctx *cli.Context) error {
			id, err := ids.ParseTransactionID(ctx.Args().First())
			if err != nil {
				return err
			}
			node, err := ids.ParseAccountID(ctx.String("node"))
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			resp := client.TransactionResponse{TransactionID: id, NodeID: node}
			if !ctx.Bool("record") {
				rc, err := c.GetReceipt(a.ctx, resp)
				printReceipt(id, rc)
				return err
			}
			rec, err := c.GetRecord(a.ctx, resp)
			printReceipt(id, rec.Receipt)
			if err != nil {
				return err
			}
			success("consensus at %s, fee [ %d ] tinybars, hash %x", rec.ConsensusTimestamp.Format(time.RFC3339Nano), rec.TransactionFee, rec.TransactionHash)
			return nil
		},
	}
}

func storeCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Acts on transactions stored for offline signing.",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Lists the stored transactions.",
				Action: func(_ *cli.Context) error {
					s, err := a.store()
					if err != nil {
						return err
					}
					handles, err := s.Handles()
					if err != nil {
						return err
					}
					for _, h := range handles {
						tx, err := s.Get(h)
						if err != nil {
							return err
						}
						pterm.Info.Println(fmt.Sprintf("%s  %s  %s", h, tx.TransactionID(), tx.Kind()))
					}
					return nil
				},
			},
			{
				Name:      "sign",
				Usage:     "Signs a stored transaction.",
				ArgsUsage: "<handle>",
				Flags:     []cli.Flag{signFlag},
				Action: func(ctx *cli.Context) error {
					signers, err := readKeys(ctx.StringSlice("sign"))
					if err != nil {
						return err
					}
					s, err := a.store()
					if err != nil {
						return err
					}
					h := ctx.Args().First()
					for _, k := range signers {
						tx, err := s.Get(h)
						if err != nil {
							return err
						}
						raw, err := tx.ToBytes()
						if err != nil {
							return err
						}
						r, err := signshare.Sign(raw, k, nil)
						if err != nil {
							return err
						}
						if _, err := s.AddSignature(h, r.PublicKey, r.Signatures); err != nil {
							return err
						}
						success("signed by %s", k.PublicKey().Base58())
					}
					return nil
				},
			},
			{
				Name:      "collect",
				Usage:     "Requests signatures of a stored transaction from signers listening on NATS.",
				ArgsUsage: "<handle>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "key", Required: true, Usage: "Public `KEY` of a signer, repeatable"},
					&cli.IntFlag{Name: "threshold", Usage: "Number of signers required, all when zero"},
					&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "Stop waiting after `DURATION`"},
				},
				Action: func(ctx *cli.Context) error {
					var pubs []keys.Key
					for _, s := range ctx.StringSlice("key") {
						p, err := keys.ParsePublicKey(s)
						if err != nil {
							return err
						}
						pubs = append(pubs, p)
					}
					required, err := keys.NewThresholdKey(ctx.Int("threshold"), pubs...)
					if err != nil {
						return err
					}
					s, err := a.store()
					if err != nil {
						return err
					}
					h := ctx.Args().First()
					tx, err := s.Get(h)
					if err != nil {
						return err
					}
					col, err := signshare.CollectorConnect(a.cfg.SignShare, a.log)
					if err != nil {
						return err
					}
					defer col.Disconnect()
					collectErr := col.CollectWithin(tx, required, ctx.Duration("timeout"))
					if _, err := s.Put(tx); err != nil {
						return err
					}
					if collectErr != nil {
						return collectErr
					}
					success("transaction [ %s ] collected the required signatures", tx.TransactionID())
					return nil
				},
			},
			{
				Name:      "submit",
				Usage:     "Submits a stored transaction and removes it from the store.",
				ArgsUsage: "<handle>",
				Action: func(ctx *cli.Context) error {
					s, err := a.store()
					if err != nil {
						return err
					}
					h := ctx.Args().First()
					tx, err := s.Get(h)
					if err != nil {
						return err
					}
					c, err := a.client()
					if err != nil {
						return err
					}
					if err := a.submit(c, tx); err != nil {
						return err
					}
					return s.Delete(h)
				},
			},
		},
	}
}

func signerCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "signer",
		Usage: "Answers signature requests published on NATS until interrupted.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Required: true, Usage: "Sign with the private key from PEM `FILE`"},
			&cli.StringSliceFlag{Name: "payer", Usage: "Only sign transactions paid by `ACCOUNT`, repeatable"},
		},
		Action: func(ctx *cli.Context) error {
			k, err := keys.ReadFromPem(ctx.String("key"))
			if err != nil {
				return err
			}
			payers := make(map[ids.AccountID]struct{})
			for _, p := range ctx.StringSlice("payer") {
				id, err := ids.ParseAccountID(p)
				if err != nil {
					return err
				}
				payers[id] = struct{}{}
			}
			approve := func(tx *transaction.Transaction) bool {
				if len(payers) == 0 {
					return true
				}
				_, ok := payers[tx.Payer()]
				return ok
			}
			s, err := signshare.SignerConnect(a.cfg.SignShare, k, approve, a.log)
			if err != nil {
				return err
			}
			return s.Serve(a.ctx)
		},
	}
}

func scheduleCommand(a *app) *cli.Command {
	coordinator := func() (*schedule.Coordinator, error) {
		c, err := a.client()
		if err != nil {
			return nil, err
		}
		return schedule.New(c, a.log), nil
	}
	return &cli.Command{
		Name:  "schedule",
		Usage: "Creates, signs and deletes scheduled transfers.",
		Subcommands: []*cli.Command{
			{
				Name:  "transfer",
				Usage: "Schedules a transfer that executes once its signatures are collected.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true, Usage: "Debited `ACCOUNT`"},
					&cli.StringFlag{Name: "to", Required: true, Usage: "Credited `ACCOUNT`"},
					&cli.Int64Flag{Name: "amount", Required: true, Usage: "`TINYBARS` to transfer"},
					&cli.StringFlag{Name: "admin", Usage: "Public `KEY` allowed to delete the schedule"},
					&cli.StringFlag{Name: "memo", Usage: "Schedule `MEMO`"},
					&cli.DurationFlag{Name: "expire-in", Usage: "Expire the schedule after `DURATION`"},
					&cli.BoolFlag{Name: "wait-for-expiry", Usage: "Execute at expiration only"},
					signFlag,
				},
				Action: func(ctx *cli.Context) error {
					from, err := ids.ParseAccountID(ctx.String("from"))
					if err != nil {
						return err
					}
					to, err := ids.ParseAccountID(ctx.String("to"))
					if err != nil {
						return err
					}
					opts := []schedule.Option{schedule.WithMemo(ctx.String("memo"))}
					if admin := ctx.String("admin"); admin != "" {
						p, err := keys.ParsePublicKey(admin)
						if err != nil {
							return err
						}
						opts = append(opts, schedule.WithAdminKey(p))
					}
					if d := ctx.Duration("expire-in"); d > 0 {
						opts = append(opts, schedule.WithExpiration(time.Now().Add(d)))
					}
					if ctx.Bool("wait-for-expiry") {
						opts = append(opts, schedule.WithWaitForExpiry())
					}
					signers, err := readKeys(ctx.StringSlice("sign"))
					if err != nil {
						return err
					}
					co, err := coordinator()
					if err != nil {
						return err
					}
					s, rc, err := co.Create(a.ctx, schedule.NewCreate(body.NewTransfer(from, to, ctx.Int64("amount")), opts...), signers...)
					printReceipt(s.ScheduledTransactionID, rc)
					return err
				},
			},
			{
				Name:      "sign",
				Usage:     "Adds signatures to a schedule.",
				ArgsUsage: "<schedule id>",
				Flags:     []cli.Flag{signFlag},
				Action: func(ctx *cli.Context) error {
					id, err := ids.ParseScheduleID(ctx.Args().First())
					if err != nil {
						return err
					}
					signers, err := readKeys(ctx.StringSlice("sign"))
					if err != nil {
						return err
					}
					co, err := coordinator()
					if err != nil {
						return err
					}
					rc, err := co.Sign(a.ctx, id, signers...)
					if err != nil {
						return err
					}
					success("schedule [ %s ] signed, status %s", id, rc.Status)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Deletes a schedule, the admin key must sign.",
				ArgsUsage: "<schedule id>",
				Flags:     []cli.Flag{signFlag},
				Action: func(ctx *cli.Context) error {
					id, err := ids.ParseScheduleID(ctx.Args().First())
					if err != nil {
						return err
					}
					signers, err := readKeys(ctx.StringSlice("sign"))
					if err != nil {
						return err
					}
					co, err := coordinator()
					if err != nil {
						return err
					}
					if _, err := co.Delete(a.ctx, id, signers...); err != nil {
						return err
					}
					success("schedule [ %s ] deleted", id)
					return nil
				},
			},
		},
	}
}

func mirrorCommand(a *app) *cli.Command {
	rest := func() (*mirror.Rest, error) {
		c, err := a.client()
		if err != nil {
			return nil, err
		}
		return c.Mirror()
	}
	return &cli.Command{
		Name:  "mirror",
		Usage: "Reads from the mirror node.",
		Subcommands: []*cli.Command{
			{
				Name:  "rate",
				Usage: "Prints the exchange rate.",
				Action: func(_ *cli.Context) error {
					r, err := rest()
					if err != nil {
						return err
					}
					rate, err := r.ExchangeRate()
					if err != nil {
						return err
					}
					success("[ %d ] cents per [ %d ] hbar", rate.Current.CentEquivalent, rate.Current.HbarEquivalent)
					return nil
				},
			},
			{
				Name:      "transaction",
				Usage:     "Prints the mirror node view of a transaction.",
				ArgsUsage: "<transaction id>",
				Action: func(ctx *cli.Context) error {
					id, err := ids.ParseTransactionID(ctx.Args().First())
					if err != nil {
						return err
					}
					r, err := rest()
					if err != nil {
						return err
					}
					txs, err := r.Transactions(id)
					if err != nil {
						return err
					}
					rows := pterm.TableData{{"id", "name", "result", "consensus", "fee"}}
					for _, t := range txs {
						rows = append(rows, []string{t.TransactionID, t.Name, t.Result, t.ConsensusTimestamp, fmt.Sprint(t.ChargedTxFee)})
					}
					return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
				},
			},
			{
				Name:  "nodes",
				Usage: "Prints the address book.",
				Action: func(_ *cli.Context) error {
					r, err := rest()
					if err != nil {
						return err
					}
					book, err := r.AddressBook()
					if err != nil {
						return err
					}
					for address, account := range book {
						pterm.Info.Println(fmt.Sprintf("%s  %s", account, address))
					}
					return nil
				},
			},
		},
	}
}
