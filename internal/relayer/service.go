package relayer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/api"
	"github.com/mysocial/bridge-relayers/pkg/audit"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/deposit"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/lock"
	"github.com/mysocial/bridge-relayers/pkg/server"
	evmservice "github.com/mysocial/bridge-relayers/pkg/services/evm"
	"github.com/mysocial/bridge-relayers/pkg/services/handler"
	nativeservice "github.com/mysocial/bridge-relayers/pkg/services/native"
	"github.com/mysocial/bridge-relayers/pkg/services/rabbitmq"
	"github.com/mysocial/bridge-relayers/pkg/telemetry"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
)

const eventBusBuffer = 256

// Components are the external dependencies of the service. NewService dials
// them from the config; tests pass fakes to Assemble.
type Components struct {
	Store         db.Store
	Locker        lock.Locker
	Evm           deposit.EvmChain
	Native        deposit.NativeChain
	NativeRelayer *native.Signer
	Recorder      deposit.Recorder
	AuthorityKey  *ecdsa.PrivateKey
}

type Service struct {
	cfg      *config.Config
	EventBus *events.EventBus

	Addresses      *deposit.AddressManager
	Gas            *deposit.GasManager
	Engine         *deposit.Engine
	Processor      *handler.DepositProcessor
	EvmListener    *evmservice.EvmListener
	NativeListener *nativeservice.NativeListener
	Api            *api.Server
	SigningServer  *server.SigningServer

	closers []func()
}

// NewService connects to every backend named in cfg and assembles the service.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	var closers []func()
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		utils.LogIfError(shutdownTelemetry(ctx), "[Relayer] failed to flush traces")
	})

	comps := Components{}
	adapter, err := db.NewDatabaseAdapter(cfg.Database.URL)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { utils.LogIfError(adapter.Close(), "[Relayer] failed to close database") })
	comps.Store = adapter

	if cfg.Redis.Addr != "" {
		redisLocker := lock.NewRedisLocker(lock.NewRedisPool(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB))
		if err := redisLocker.Ping(ctx); err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		comps.Locker = redisLocker
	} else {
		log.Warn().Msg("[Relayer] redis is not configured, in-flight markers are local to this process")
		comps.Locker = lock.NewLocalLocker()
	}

	relayerKey, err := cfg.Secrets.RelayerEvmKey()
	if err != nil {
		log.Warn().Err(err).Msg("[Relayer] no evm relayer key, gas funding and governance submission are disabled")
		relayerKey = nil
	}
	evmClient, err := evm.NewEvmClient(ctx, &cfg.Evm, cfg.Relay, relayerKey)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, evmClient.Close)
	comps.Evm = evmClient

	nativeClient, err := native.NewNativeClient(ctx, &cfg.Native, cfg.Relay)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, nativeClient.Close)
	comps.Native = nativeClient

	if cfg.Secrets.RelayerNativeKey != "" {
		comps.NativeRelayer, err = native.ParsePrivateKey(cfg.Secrets.RelayerNativeKey)
		if err != nil {
			return fail(fmt.Errorf("invalid RELAYER_MYSO_PRIVATE_KEY: %w", err))
		}
	}

	if cfg.Mongo.URI != "" {
		recorder, err := audit.NewMongoRecorder(ctx, cfg.Mongo)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			utils.LogIfError(recorder.Close(context.Background()), "[Relayer] failed to disconnect mongo")
		})
		comps.Recorder = recorder
	}

	if cfg.SigningServer.Enabled {
		comps.AuthorityKey, err = cfg.Secrets.AuthorityKey()
		if err != nil {
			return fail(err)
		}
	}

	service, err := Assemble(cfg, comps)
	if err != nil {
		return fail(err)
	}
	service.closers = closers
	return service, nil
}

// Assemble wires the deposit relay, listeners and servers on top of comps.
func Assemble(cfg *config.Config, comps Components) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		EventBus: events.NewEventBus(eventBusBuffer),
	}

	if cfg.Deposit.Enabled || cfg.Api.Enabled {
		addresses, err := deposit.NewAddressManager(cfg.Secrets.DepositMnemonic, comps.Store)
		if err != nil {
			return nil, err
		}
		s.Addresses = addresses
	}

	if cfg.Deposit.Enabled {
		s.Gas = deposit.NewGasManager(comps.Evm, comps.Native, comps.NativeRelayer, comps.Locker, cfg.Deposit)
		s.Engine = deposit.NewEngine(cfg.Deposit, comps.Evm, comps.Native, s.Addresses, s.Gas, comps.Store, comps.Locker)
		if comps.Recorder != nil {
			s.Engine.WithRecorder(comps.Recorder)
		}
		s.Processor = handler.NewDepositProcessor(s.Engine, cfg.Deposit.WorkerCount, cfg.Relay.MaxRetries, cfg.Relay.RetryDelay)
		s.EvmListener = evmservice.NewEvmListener(&cfg.Evm, cfg.Deposit, comps.Evm, comps.Store, s.EventBus)

		// Gas top-ups from the relayer land on deposit addresses too.
		var ignored []types.NativeAddress
		if comps.NativeRelayer != nil {
			ignored = append(ignored, comps.NativeRelayer.Address())
		}
		s.NativeListener = nativeservice.NewNativeListener(&cfg.Native, comps.Native, comps.Store, s.EventBus, ignored...)
		if cfg.Deposit.RedeliverAfter > 0 {
			s.NativeListener.WithRedeliverAfter(cfg.Deposit.RedeliverAfter)
		}
	}

	if cfg.Api.Enabled {
		s.Api = api.NewServer(cfg, s.Addresses, comps.Store)
	}

	if cfg.SigningServer.Enabled {
		if comps.AuthorityKey == nil {
			return nil, errors.New("signing server is enabled without an authority key")
		}
		actions, err := cfg.SigningServer.GovernanceActions()
		if err != nil {
			return nil, err
		}
		verifier, err := committee.NewGovernanceVerifier(actions)
		if err != nil {
			return nil, err
		}
		signer := committee.NewAuthoritySigner(comps.AuthorityKey, verifier)
		s.SigningServer = server.NewSigningServer(signer, server.Options{
			ListenAddr:     cfg.SigningServer.ListenAddr,
			AllowedOrigins: cfg.Api.AllowedOrigins,
		})
		log.Info().Str("authority", signer.Address().Hex()).Int("approvedActions", len(actions)).
			Msg("[Relayer] signing server configured")
	}

	return s, nil
}

// Start runs every configured component until ctx is cancelled. It returns
// once all of them have stopped.
func (s *Service) Start(ctx context.Context) error {
	if s.Gas != nil {
		if balance, err := s.Gas.CheckRelayerEvmBalance(ctx); err != nil {
			log.Warn().Err(err).Msg("[Relayer] [Start] relayer evm balance check failed")
		} else {
			log.Info().Str("balance", utils.FormatEther(balance)).Msg("[Relayer] [Start] relayer evm balance")
		}
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", name).Msg("[Relayer] [Start] component stopped with error")
			}
		}()
	}

	if s.Processor != nil {
		evmDeposits := s.EventBus.Subscribe(events.EVENT_EVM_DEPOSIT)
		nativeDeposits := s.EventBus.Subscribe(events.EVENT_NATIVE_DEPOSIT)
		run("deposit-processor", func(ctx context.Context) error {
			return s.Processor.Consume(ctx, evmDeposits, nativeDeposits)
		})
		run("evm-listener", s.EvmListener.Run)
		run("native-listener", s.NativeListener.Run)
		if s.cfg.RabbitMQ.Enabled {
			intake, err := rabbitmq.NewClient(&s.cfg.RabbitMQ, s.Processor)
			if err != nil {
				log.Error().Err(err).Msg("[Relayer] [Start] rabbitmq intake disabled")
			} else {
				s.closers = append(s.closers, intake.Close)
				run("rabbitmq-intake", intake.Consume)
			}
		}
	} else {
		log.Warn().Msg("[Relayer] [Start] deposit relay is disabled")
	}
	if s.Api != nil {
		run("deposit-api", s.Api.Start)
	}
	if s.SigningServer != nil {
		run("signing-server", s.SigningServer.Start)
	}

	<-ctx.Done()
	s.EventBus.Close()
	wg.Wait()
	return nil
}

func (s *Service) Stop() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	log.Info().Msg("[Relayer] stopped")
}

// NewCommittee builds the committee from the configured authorities.
func NewCommittee(cfg config.CommitteeConfig) (*committee.Committee, error) {
	members := make([]*committee.Authority, 0, len(cfg.Authorities))
	for _, ac := range cfg.Authorities {
		pubKey, err := hex.DecodeString(strings.TrimPrefix(ac.PubKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("authority %s: %w", ac.Name, err)
		}
		authority, err := committee.NewAuthority(ac.Name, pubKey, ac.VotingPower, ac.URL)
		if err != nil {
			return nil, err
		}
		authority.Blocklisted = ac.Blocklisted
		members = append(members, authority)
	}
	return committee.NewCommittee(members)
}
