//go:build ignore

// generate_hash.go — утилита для генерации секретов сервиса.
// Запуск: go run scripts/generate_hash.go ваш_токен
//
// Печатает ADMIN_TOKEN_HASH для токена и свежий ENCRYPTION_KEY.
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"serotonyl.ru/vpn-shop/internal/features/admins"
	"serotonyl.ru/vpn-shop/internal/secret"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run scripts/generate_hash.go <токен>")
		os.Exit(1)
	}

	token := os.Args[1]
	if len(token) < 8 {
		fmt.Println("Токен должен быть не короче 8 символов")
		os.Exit(1)
	}

	// Генерируем случайную соль (16 байт)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Printf("Ошибка генерации соли: %v\n", err)
		os.Exit(1)
	}

	key, err := secret.GenerateKey()
	if err != nil {
		fmt.Printf("Ошибка генерации ключа: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Вставьте в .env:")
	fmt.Printf("ADMIN_TOKEN_HASH='%s'\n", admins.HashToken(token, salt))
	fmt.Printf("ENCRYPTION_KEY=%s\n", key)
}
