// sigctl drives the signing engine locally for operators: generate a
// keystore, then produce signed payment or staking messages without running
// the gateway.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"sigforge/cmd/internal/passphrase"
	"sigforge/config"
	"sigforge/crypto"
	"sigforge/flow"
	"sigforge/ledger"
	"sigforge/nonce"
	"sigforge/session"
	"sigforge/validate"
)

const (
	defaultPassEnv  = "SIGCTL_PASS"
	defaultNetworks = "networks.toml"
	localSessionID  = "sigctl"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "pay":
		err = runPay(os.Args[2:])
	case "disperse":
		err = runDisperse(os.Args[2:])
	case "stake":
		err = runStake(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sigctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sigctl <keygen|pay|disperse|stake> [flags]")
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "signer.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	fs.Parse(args)

	pass, err := passphrase.NewSource(*passEnv).GetNew()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, key.Address().Hex())
	return nil
}

type commonFlags struct {
	networksFile string
	network      string
	contract     string
	keystore     string
	passEnv      string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.networksFile, "networks", defaultNetworks, "Path to the networks TOML file")
	fs.StringVar(&cf.network, "network", validate.NetworkMainnet, "Target network")
	fs.StringVar(&cf.contract, "contract", "", "Ledger contract address (defaults to the network's configured contract)")
	fs.StringVar(&cf.keystore, "keystore", "signer.keystore", "Path to the signer keystore")
	fs.StringVar(&cf.passEnv, "pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	return cf
}

// local builds an in-process engine around a one-off session and returns it
// alongside the loaded key.
func local(cf *commonFlags) (*flow.Engine, *session.Store, *crypto.PrivateKey, error) {
	networks, err := config.Load(cf.networksFile)
	if err != nil {
		return nil, nil, nil, err
	}
	network, err := validate.Network(cf.network)
	if err != nil {
		return nil, nil, nil, err
	}
	contract := strings.TrimSpace(cf.contract)
	if contract == "" {
		contract = networks.Networks[network].LedgerContract
	}
	if contract == "" {
		return nil, nil, nil, fmt.Errorf("no ledger contract for network %q; pass -contract", network)
	}

	pass, err := passphrase.NewSource(cf.passEnv).Get()
	if err != nil {
		return nil, nil, nil, err
	}
	key, err := crypto.LoadFromKeystore(cf.keystore, pass)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open keystore: %w", err)
	}

	router := ledger.NewRouter()
	for name, net := range networks.Networks {
		router.Register(name, ledger.NewRPCClient(net.RPCURL, net.RPCAuthToken))
	}

	sessions := session.NewStore()
	engine := flow.NewEngine(sessions, nonce.NewSelector(router), networks.ChainIDs(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	sessions.Mutate(localSessionID, func(s *session.Session) {
		s.Signer = &session.Signer{Address: key.Address(), Key: key}
		s.Network = network
		s.LedgerContract = contract
	})
	return engine, sessions, key, nil
}

// feed pushes the prepared inputs through the conversation, failing fast on
// the first rejected step.
func feed(engine *flow.Engine, kind flow.Kind, inputs []string) error {
	if _, err := engine.StartOperation(localSessionID, kind); err != nil {
		return err
	}
	for _, input := range inputs {
		prompt, err := engine.SubmitStepInput(localSessionID, input)
		if err != nil {
			return err
		}
		if prompt.Err != "" {
			return fmt.Errorf("input %q rejected: %s", input, prompt.Err)
		}
	}
	return nil
}

func signAndPrint(engine *flow.Engine, key *crypto.PrivateKey) error {
	result, err := engine.ConfirmAndSign(context.Background(), localSessionID, key)
	if err != nil {
		return err
	}
	out := make([]map[string]interface{}, 0, len(result.Messages))
	for i, msg := range result.Messages {
		out = append(out, map[string]interface{}{
			"message":   msg,
			"signature": "0x" + hex.EncodeToString(result.Signatures[i]),
		})
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]interface{}{
		"kind":   result.Kind,
		"signer": result.Signer.Hex(),
		"signed": out,
	})
}

func runPay(args []string) error {
	fs := flag.NewFlagSet("pay", flag.ExitOnError)
	cf := registerCommon(fs)
	to := fs.String("to", "", "Recipient address")
	username := fs.String("username", "", "Recipient username (alternative to -to)")
	token := fs.String("token", "", "Token contract address")
	amount := fs.String("amount", "", "Amount to send")
	fee := fs.String("fee", "0", "Priority fee")
	priority := fs.String("priority", validate.PriorityLow, "Priority: low or high")
	fs.Parse(args)

	engine, sessions, key, err := local(cf)
	if err != nil {
		return err
	}
	defer sessions.Close()

	inputs := []string{"address", *to}
	if *username != "" {
		inputs = []string{"username", *username}
	}
	inputs = append(inputs, *token, *amount, *fee, *priority)
	if err := feed(engine, flow.KindSinglePayment, inputs); err != nil {
		return err
	}
	return signAndPrint(engine, key)
}

func runDisperse(args []string) error {
	fs := flag.NewFlagSet("disperse", flag.ExitOnError)
	cf := registerCommon(fs)
	total := fs.String("total", "", "Declared total amount")
	recipients := fs.String("recipients", "", "Comma-separated target=amount pairs; targets are addresses or usernames")
	fee := fs.String("fee", "0", "Priority fee")
	priority := fs.String("priority", validate.PriorityLow, "Priority: low or high")
	fs.Parse(args)

	pairs := strings.Split(*recipients, ",")
	inputs := []string{*total, fmt.Sprintf("%d", len(pairs))}
	for _, pair := range pairs {
		target, amount, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return fmt.Errorf("bad recipient %q; expected target=amount", pair)
		}
		inputs = append(inputs, target, amount)
	}
	inputs = append(inputs, *fee, *priority)

	engine, sessions, key, err := local(cf)
	if err != nil {
		return err
	}
	defer sessions.Close()

	if err := feed(engine, flow.KindDispersePayment, inputs); err != nil {
		return err
	}
	return signAndPrint(engine, key)
}

func runStake(args []string) error {
	fs := flag.NewFlagSet("stake", flag.ExitOnError)
	cf := registerCommon(fs)
	action := fs.String("action", validate.ActionStake, "stake or unstake")
	amount := fs.String("amount", "", "Amount to stake or unstake")
	fee := fs.String("fee", "0", "Priority fee")
	priority := fs.String("priority", validate.PriorityLow, "Priority: low or high")
	presale := fs.Bool("presale", false, "Use the presale staking flow")
	dual := fs.Bool("dual", false, "Produce the dual ledger/staking signature pair (presale only)")
	fs.Parse(args)

	engine, sessions, key, err := local(cf)
	if err != nil {
		return err
	}
	defer sessions.Close()

	kind := flow.KindPublicStaking
	inputs := []string{*action, *amount, *fee, *priority}
	if *presale {
		kind = flow.KindPresaleStaking
		mode := "single"
		if *dual {
			mode = "dual"
		}
		inputs = append(inputs, mode)
	}
	if err := feed(engine, kind, inputs); err != nil {
		return err
	}
	return signAndPrint(engine, key)
}
