package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"fitlink/internal/adapter/api"
	"fitlink/internal/adapter/api/handler"
	apimiddleware "fitlink/internal/adapter/api/middleware"
	"fitlink/internal/adapter/api/router"
	"fitlink/internal/adapter/repository"
	"fitlink/internal/infrastructure/delivery"
	"fitlink/internal/infrastructure/firebase"
	"fitlink/internal/infrastructure/metrics"
	"fitlink/internal/infrastructure/notification"
	"fitlink/internal/infrastructure/storage"
	"fitlink/internal/infrastructure/websocket"
	"fitlink/internal/usecase"
	"fitlink/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opt option.ClientOption
	credentialsPath := ""

	// Credentials come from an env var in production, a file in development.
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
	} else {
		credentialsPath = os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
		if credentialsPath == "" {
			log.Fatalf("FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_SERVICE_ACCOUNT_PATH must be set")
		}
		if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", credentialsPath)
		}
		opt = option.WithCredentialsFile(credentialsPath)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	messagingClient, err := firebaseApp.Messaging(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Messaging: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, credentialsPath)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}
	defer storageClient.Close()

	metrics.Register()

	messageRepo := repository.NewFirestoreMessageRepository(firestoreClient)
	conversationRepo := repository.NewFirestoreConversationRepository(firestoreClient)
	userRepo := repository.NewFirestoreUserRepository(firestoreClient)
	challengeRepo := repository.NewFirestoreChallengeRepository(firestoreClient)

	deliveryChannel := delivery.NewChannel(messageRepo)
	dispatcher := notification.NewFCMDispatcher(messagingClient)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	messagingUseCase := usecase.NewMessagingUseCase(
		messageRepo,
		conversationRepo,
		userRepo,
		challengeRepo,
		storageClient,
		dispatcher,
		deliveryChannel,
		wsManager,
	)

	eventHandler := websocket.NewEventHandler(wsManager, messagingUseCase, deliveryChannel)

	e := echo.New()

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.Validator = api.NewValidator()

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)
	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient)

	conversationHandler := handler.NewConversationHandler(messagingUseCase, cfg.MaxUploadBytes)
	wsHandler := handler.NewWebSocketHandler(wsManager, eventHandler, authMiddleware)
	healthHandler := handler.NewHealthHandler()

	router.Setup(e, conversationHandler, wsHandler, healthHandler, authMiddleware)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
