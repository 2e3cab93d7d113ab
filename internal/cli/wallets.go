package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/sigweihq/agentpay/pkg/chains/evm"
	"github.com/sigweihq/agentpay/pkg/chains/svm"
	"github.com/sigweihq/agentpay/pkg/chains/tron"
	"github.com/sigweihq/agentpay/pkg/config"
	"github.com/sigweihq/agentpay/pkg/session"
	"golang.org/x/term"
)

// prompter asks the key holder for approvals and passphrases
type prompter struct {
	mu     sync.Mutex
	raw    io.Reader
	in     *bufio.Reader
	out    io.Writer
	always bool
}

func newPrompter(in io.Reader, out io.Writer, autoConfirm bool) *prompter {
	return &prompter{raw: in, in: bufio.NewReader(in), out: out, always: autoConfirm}
}

func (p *prompter) confirm(summary string) (bool, error) {
	if p.always {
		return true, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s\nApprove? [y/N]: ", summary)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *prompter) password(prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, prompt)
	if f, ok := p.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out) // newline after password input
		if err != nil {
			return "", err
		}
		return string(password), nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *prompter) confirmEVM(ctx context.Context, networkID int64, tx evm.TxRequest) (bool, error) {
	value := "0"
	if tx.Value != "" {
		if v, err := hexutil.DecodeBig(tx.Value); err == nil {
			value = v.String()
		}
	}
	summary := fmt.Sprintf("Send transaction on network %d\n  from:  %s\n  to:    %s\n  value: %s wei", networkID, tx.From, tx.To, value)
	if tx.Data != "" && tx.Data != "0x" {
		summary += fmt.Sprintf("\n  data:  %d bytes", (len(tx.Data)-2)/2)
	}
	return p.confirm(summary)
}

func (p *prompter) confirmSolana(ctx context.Context, tx *solana.Transaction) (bool, error) {
	payer := "unknown"
	if len(tx.Message.AccountKeys) > 0 {
		payer = tx.Message.AccountKeys[0].String()
	}
	return p.confirm(fmt.Sprintf("Sign Solana transaction\n  fee payer:    %s\n  instructions: %d", payer, len(tx.Message.Instructions)))
}

func (p *prompter) confirmTron(ctx context.Context, tx *tron.Transaction) (bool, error) {
	return p.confirm(fmt.Sprintf("Sign TRON transaction\n  id: %s", tx.TxID))
}

// loadWallets builds the local wallets configured in cfg; families without key material stay nil
func loadWallets(cfg config.WalletConfig, registry *chains.Registry, p *prompter) (session.Wallets, error) {
	var wallets session.Wallets

	switch {
	case cfg.EVMPrivateKey != "":
		provider, err := evm.NewKeyProviderFromHex(cfg.EVMPrivateKey, p.confirmEVM)
		if err != nil {
			return wallets, fmt.Errorf("evm wallet: %w", err)
		}
		wallets.EVM = provider
	case cfg.EVMKeystore != "":
		wallets.EVM = &lazyProvider{load: func() (*evm.KeystoreProvider, error) {
			keyJSON, err := os.ReadFile(cfg.EVMKeystore)
			if err != nil {
				return nil, fmt.Errorf("failed to read keystore: %w", err)
			}
			passphrase := cfg.EVMPassphrase
			if passphrase == "" {
				if passphrase, err = p.password("Keystore passphrase: "); err != nil {
					return nil, fmt.Errorf("failed to read passphrase: %w", err)
				}
			}
			return evm.NewKeystoreProvider(keyJSON, passphrase, p.confirmEVM)
		}}
	}

	switch {
	case cfg.SolanaPrivateKey != "":
		wallet, err := svm.NewKeypairWalletFromString(cfg.SolanaPrivateKey, p.confirmSolana)
		if err != nil {
			return wallets, fmt.Errorf("solana wallet: %w", err)
		}
		wallets.Solana = wallet
	case cfg.SolanaKeypair != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.SolanaKeypair)
		if err != nil {
			return wallets, fmt.Errorf("solana wallet: %w", err)
		}
		wallets.Solana = svm.NewKeypairWallet(key, p.confirmSolana)
	}

	if cfg.TronPrivateKey != "" {
		nodeURL := cfg.TronFullNode
		if nodeURL == "" {
			desc, err := registry.Get(chains.Tron)
			if err != nil {
				return wallets, err
			}
			nodeURL = desc.RPCURL
		}
		wallet, err := tron.NewKeyWalletFromHex(cfg.TronPrivateKey, nodeURL, p.confirmTron)
		if err != nil {
			return wallets, fmt.Errorf("tron wallet: %w", err)
		}
		wallets.Tron = wallet
	}
	return wallets, nil
}

// lazyProvider decrypts the keystore on first use so commands that never touch an EVM chain
// do not ask for the passphrase
type lazyProvider struct {
	once     sync.Once
	load     func() (*evm.KeystoreProvider, error)
	provider *evm.KeystoreProvider
	err      error
}

func (l *lazyProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	l.once.Do(func() {
		l.provider, l.err = l.load()
	})
	if l.err != nil {
		return nil, &evm.ProviderError{Code: evm.CodeUnauthorized, Message: l.err.Error()}
	}
	return l.provider.Request(ctx, method, params...)
}
