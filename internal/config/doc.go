// Package config загружает конфигурацию процессов из окружения.
//
// Load читает файл .env из рабочего каталога (если он есть), затем
// переменные окружения с значениями по умолчанию и проверяет результат.
// Методы Open* и конструкторы конфигураций компонентов избавляют cmd/*
// от повторения одной и той же сборки зависимостей.
package config
