package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/allot/internal/cache"
	"github.com/Additional-Code/allot/internal/config"
	"github.com/Additional-Code/allot/internal/database"
	"github.com/Additional-Code/allot/internal/logger"
	"github.com/Additional-Code/allot/internal/messaging"
	"github.com/Additional-Code/allot/internal/notify"
	"github.com/Additional-Code/allot/internal/observability"
	repositoryorder "github.com/Additional-Code/allot/internal/repository/order"
	repositoryvoucher "github.com/Additional-Code/allot/internal/repository/voucher"
	grpcserver "github.com/Additional-Code/allot/internal/server/grpc"
	httpserver "github.com/Additional-Code/allot/internal/server/http"
	serviceorder "github.com/Additional-Code/allot/internal/service/order"
	"github.com/Additional-Code/allot/internal/storage"
	transporthttp "github.com/Additional-Code/allot/internal/transport/http"
	"github.com/Additional-Code/allot/internal/worker"
	workerorder "github.com/Additional-Code/allot/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	storage.Module,
	notify.Module,
	repositoryorder.Module,
	repositoryvoucher.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
