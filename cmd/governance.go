package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/internal/relayer"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CertifiedAction is what the governance commands print.
type CertifiedAction struct {
	Action     json.RawMessage  `json:"action"`
	Bytes      hexutil.Bytes    `json:"bytes"`
	Digest     common.Hash      `json:"digest"`
	Stake      uint64           `json:"stake"`
	Signers    []common.Address `json:"signers"`
	Signatures []hexutil.Bytes  `json:"signatures"`
	TxHash     *common.Hash     `json:"txHash,omitempty"`
}

func NewCertifiedAction(action bridge.Action, sigs *committee.AggregatedSignatures) (*CertifiedAction, error) {
	raw, err := bridge.MarshalAction(action)
	if err != nil {
		return nil, err
	}
	msg, err := bridge.ToMessage(action)
	if err != nil {
		return nil, err
	}
	out := &CertifiedAction{
		Action:  raw,
		Bytes:   msg.Bytes(),
		Digest:  msg.SigningDigest(),
		Stake:   sigs.Stake(),
		Signers: sigs.Signers(),
	}
	for _, sig := range sigs.Signatures() {
		out.Signatures = append(out.Signatures, sig)
	}
	return out, nil
}

var governanceFlags struct {
	nonce   uint64
	chainID uint8
	dryRun  bool
}

var governanceCmd = &cobra.Command{
	Use:   "governance",
	Short: "Certify governance actions with the committee and submit them",
}

type actionBuilder func(header bridge.ActionHeader) (bridge.Action, error)

// runGovernance builds the action for the chain it targets, collects a
// quorum of signatures and submits it to the configured EVM contract.
// Native targeted actions and dry runs print the certified action instead.
func runGovernance(cmd *cobra.Command, nativeTarget bool, build actionBuilder) error {
	config.InitLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	header := bridge.ActionHeader{Nonce: governanceFlags.nonce, ChainID: cfg.EvmChainID()}
	if nativeTarget {
		header.ChainID = cfg.NativeChainID()
	}
	if cmd.Flags().Changed("chain-id") {
		header.ChainID, err = types.ParseChainId(governanceFlags.chainID)
		if err != nil {
			return err
		}
	}
	action, err := build(header)
	if err != nil {
		return err
	}
	if _, err := action.Payload(); err != nil {
		return err
	}
	digest, err := bridge.SigningDigest(action)
	if err != nil {
		return err
	}
	log.Info().Str("type", action.Type().String()).Uint64("nonce", header.Nonce).
		Str("chain", header.ChainID.String()).Str("digest", digest.Hex()).Msg("[Governance] collecting signatures")

	members, err := relayer.NewCommittee(cfg.Committee)
	if err != nil {
		return err
	}
	aggregator := committee.NewAggregator(members, committee.NewHttpAuthorityClient(cfg.Committee.RequestTimeout), cfg.Committee.Timeout)
	sigs, err := aggregator.CollectSignatures(ctx, action)
	if err != nil {
		return err
	}
	out, err := NewCertifiedAction(action, sigs)
	if err != nil {
		return err
	}

	if governanceFlags.dryRun || header.ChainID.IsNative() {
		return printJSON(cmd.OutOrStdout(), out)
	}
	if header.ChainID != cfg.EvmChainID() {
		return fmt.Errorf("action targets %s but the configured evm chain is %s", header.ChainID, cfg.EvmChainID())
	}
	key, err := cfg.Secrets.RelayerEvmKey()
	if err != nil {
		return err
	}
	client, err := evm.NewEvmClient(ctx, &cfg.Evm, cfg.Relay, key)
	if err != nil {
		return err
	}
	defer client.Close()
	receipt, err := client.ExecuteGovernance(ctx, action, sigs.Signatures())
	if err != nil {
		return err
	}
	out.TxHash = &receipt.TxHash
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEmergencyButtonCmd() *cobra.Command {
	var actionType string
	cmd := &cobra.Command{
		Use:   "emergency-button",
		Short: "Pause or unpause the bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				return BuildEmergencyAction(h, actionType)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "action-type", "", "pause or unpause")
	_ = cmd.MarkFlagRequired("action-type")
	return cmd
}

func newUpdateBlocklistCmd() *cobra.Command {
	var blocklistType string
	var pubkeys []string
	cmd := &cobra.Command{
		Use:   "update-committee-blocklist",
		Short: "Blocklist or unblocklist committee members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				return BuildBlocklistAction(h, blocklistType, pubkeys)
			})
		},
	}
	cmd.Flags().StringVar(&blocklistType, "blocklist-type", "", "blocklist or unblocklist")
	cmd.Flags().StringSliceVar(&pubkeys, "pubkeys-hex", nil, "Compressed secp256k1 keys of the members")
	_ = cmd.MarkFlagRequired("blocklist-type")
	_ = cmd.MarkFlagRequired("pubkeys-hex")
	return cmd
}

func newUpdateLimitCmd() *cobra.Command {
	var sendingChain uint8
	var limit uint64
	cmd := &cobra.Command{
		Use:   "update-limit",
		Short: "Update the USD limit for transfers from a chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				sending, err := types.ParseChainId(sendingChain)
				if err != nil {
					return nil, err
				}
				return &bridge.LimitUpdateAction{ActionHeader: h, SendingChainID: sending, NewUsdLimit: limit}, nil
			})
		},
	}
	cmd.Flags().Uint8Var(&sendingChain, "sending-chain", 0, "Bridge chain id the limit applies to")
	cmd.Flags().Uint64Var(&limit, "new-usd-limit", 0, "New limit in USD with 4 decimals")
	_ = cmd.MarkFlagRequired("sending-chain")
	_ = cmd.MarkFlagRequired("new-usd-limit")
	return cmd
}

func newUpdateAssetPriceCmd() *cobra.Command {
	var tokenID uint8
	var price uint64
	cmd := &cobra.Command{
		Use:   "update-asset-price",
		Short: "Update the USD price of a bridged token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				return &bridge.AssetPriceUpdateAction{ActionHeader: h, TokenID: tokenID, NewUsdPrice: price}, nil
			})
		},
	}
	cmd.Flags().Uint8Var(&tokenID, "token-id", 0, "Bridge token id")
	cmd.Flags().Uint64Var(&price, "new-usd-price", 0, "New price in USD with 8 decimals")
	_ = cmd.MarkFlagRequired("token-id")
	_ = cmd.MarkFlagRequired("new-usd-price")
	return cmd
}

func newAddTokensOnMySoCmd() *cobra.Command {
	var native bool
	var ids, typeNames, prices []string
	cmd := &cobra.Command{
		Use:   "add-tokens-on-myso",
		Short: "Register tokens with the native bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, true, func(h bridge.ActionHeader) (bridge.Action, error) {
				return BuildAddTokensOnMySoAction(h, native, ids, typeNames, prices)
			})
		},
	}
	cmd.Flags().BoolVar(&native, "native", false, "Tokens are native to the MySo chain")
	cmd.Flags().StringSliceVar(&ids, "token-ids", nil, "Bridge token ids")
	cmd.Flags().StringSliceVar(&typeNames, "token-type-names", nil, "Move type names, e.g. 0x2::coin::USDC")
	cmd.Flags().StringSliceVar(&prices, "token-prices", nil, "USD prices with 8 decimals")
	return cmd
}

func newAddTokensOnEvmCmd() *cobra.Command {
	var native bool
	var ids, addresses, decimals, prices []string
	cmd := &cobra.Command{
		Use:   "add-tokens-on-evm",
		Short: "Register tokens with the EVM bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				return BuildAddTokensOnEvmAction(h, native, ids, addresses, decimals, prices)
			})
		},
	}
	cmd.Flags().BoolVar(&native, "native", false, "Tokens are native to the EVM chain")
	cmd.Flags().StringSliceVar(&ids, "token-ids", nil, "Bridge token ids")
	cmd.Flags().StringSliceVar(&addresses, "token-addresses", nil, "ERC-20 addresses")
	cmd.Flags().StringSliceVar(&decimals, "token-myso-decimals", nil, "Decimals of the tokens on MySo")
	cmd.Flags().StringSliceVar(&prices, "token-prices", nil, "USD prices with 8 decimals")
	return cmd
}

func newUpgradeEvmContractCmd() *cobra.Command {
	var proxy, impl, selector string
	var params []string
	cmd := &cobra.Command{
		Use:   "upgrade-evm-contract",
		Short: "Upgrade a bridge proxy to a new implementation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGovernance(cmd, false, func(h bridge.ActionHeader) (bridge.Action, error) {
				return BuildUpgradeAction(h, proxy, impl, selector, params)
			})
		},
	}
	cmd.Flags().StringVar(&proxy, "proxy-address", "", "Proxy contract to upgrade")
	cmd.Flags().StringVar(&impl, "implementation-address", "", "New implementation contract")
	cmd.Flags().StringVar(&selector, "function-selector", "", "Initializer signature, e.g. initializeV2(uint256,bool,string)")
	cmd.Flags().StringSliceVar(&params, "params", nil, "Initializer arguments")
	_ = cmd.MarkFlagRequired("proxy-address")
	_ = cmd.MarkFlagRequired("implementation-address")
	return cmd
}

func BuildEmergencyAction(h bridge.ActionHeader, actionType string) (bridge.Action, error) {
	t, err := bridge.ParseEmergencyActionType(actionType)
	if err != nil {
		return nil, err
	}
	return &bridge.EmergencyAction{ActionHeader: h, ActionType: t}, nil
}

func BuildBlocklistAction(h bridge.ActionHeader, blocklistType string, pubkeys []string) (bridge.Action, error) {
	t, err := bridge.ParseBlocklistType(blocklistType)
	if err != nil {
		return nil, err
	}
	keys := make([][]byte, 0, len(pubkeys))
	for _, pk := range pubkeys {
		raw, err := hex.DecodeString(strings.TrimPrefix(pk, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid pubkey %q: %w", pk, err)
		}
		keys = append(keys, raw)
	}
	return bridge.NewBlocklistCommitteeAction(h, t, keys)
}

func BuildAddTokensOnMySoAction(h bridge.ActionHeader, native bool, ids, typeNames, prices []string) (bridge.Action, error) {
	tokenIDs, err := parseUint8s("token-ids", ids)
	if err != nil {
		return nil, err
	}
	tokenPrices, err := parseUint64s("token-prices", prices)
	if err != nil {
		return nil, err
	}
	action := &bridge.AddTokensOnMySoAction{
		ActionHeader:   h,
		Native:         native,
		TokenIDs:       tokenIDs,
		TokenTypeNames: typeNames,
		TokenPrices:    tokenPrices,
	}
	return action, action.Validate()
}

func BuildAddTokensOnEvmAction(h bridge.ActionHeader, native bool, ids, addresses, decimals, prices []string) (bridge.Action, error) {
	tokenIDs, err := parseUint8s("token-ids", ids)
	if err != nil {
		return nil, err
	}
	tokenDecimals, err := parseUint8s("token-myso-decimals", decimals)
	if err != nil {
		return nil, err
	}
	tokenPrices, err := parseUint64s("token-prices", prices)
	if err != nil {
		return nil, err
	}
	tokenAddresses := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		addr, err := types.ParseEvmAddress(a)
		if err != nil {
			return nil, err
		}
		tokenAddresses = append(tokenAddresses, addr)
	}
	action := &bridge.AddTokensOnEvmAction{
		ActionHeader:      h,
		Native:            native,
		TokenIDs:          tokenIDs,
		TokenAddresses:    tokenAddresses,
		TokenMySoDecimals: tokenDecimals,
		TokenPrices:       tokenPrices,
	}
	return action, action.Validate()
}

func BuildUpgradeAction(h bridge.ActionHeader, proxy, impl, selector string, params []string) (bridge.Action, error) {
	proxyAddr, err := types.ParseEvmAddress(proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy-address: %w", err)
	}
	implAddr, err := types.ParseEvmAddress(impl)
	if err != nil {
		return nil, fmt.Errorf("implementation-address: %w", err)
	}
	var callData []byte
	if selector != "" {
		callData, err = bridge.EncodeCallData(selector, params)
		if err != nil {
			return nil, err
		}
	} else if len(params) > 0 {
		return nil, fmt.Errorf("params given without a function selector")
	}
	return &bridge.EvmContractUpgradeAction{
		ActionHeader:   h,
		ProxyAddress:   proxyAddr,
		NewImplAddress: implAddr,
		CallData:       callData,
	}, nil
}

func parseUint8s(flag string, values []string) ([]uint8, error) {
	out := make([]uint8, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", flag, err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

func parseUint64s(flag string, values []string) ([]uint64, error) {
	out := make([]uint64, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", flag, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func init() {
	flags := governanceCmd.PersistentFlags()
	flags.Uint64Var(&governanceFlags.nonce, "nonce", 0, "Governance nonce of the action type on the target chain")
	flags.Uint8Var(&governanceFlags.chainID, "chain-id", 0, "Target bridge chain id, defaults to the chain that executes the action")
	flags.BoolVar(&governanceFlags.dryRun, "dry-run", false, "Print the certified action without submitting it")
	_ = governanceCmd.MarkPersistentFlagRequired("nonce")

	governanceCmd.AddCommand(
		newEmergencyButtonCmd(),
		newUpdateBlocklistCmd(),
		newUpdateLimitCmd(),
		newUpdateAssetPriceCmd(),
		newAddTokensOnMySoCmd(),
		newAddTokensOnEvmCmd(),
		newUpgradeEvmContractCmd(),
	)
	rootCmd.AddCommand(governanceCmd)
}
